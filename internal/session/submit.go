package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/metrics"
	"github.com/fluia/leadmagnet/internal/placeholder"
	"github.com/fluia/leadmagnet/internal/validation"
	"github.com/fluia/leadmagnet/internal/webhook"
)

// SubmitAnswer validates raw against the current question, merges it into
// the context and asks the remote service for the next step.
//
// Validation failures set the session error and return a *validation.Error
// without contacting the remote service. Remote failures fall back to the
// local script in the scripted variant and return nil; in the server variant
// the session stalls on the same step and the remote error is returned.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, raw any) (domain.Session, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.Session{}, ErrClosed
	}
	cur := o.state
	switch {
	case cur.IsLoading:
		o.mu.Unlock()
		return cur.Clone(), ErrBusy
	case cur.IsFinished:
		o.mu.Unlock()
		return cur.Clone(), ErrFinished
	case !cur.HasStarted || cur.Step < 1:
		o.mu.Unlock()
		return cur.Clone(), ErrNotStarted
	}

	question := cur.CurrentQuestion
	value, err := validation.Check(question, raw, o.script.Messages.Validation())
	if err != nil {
		metrics.IncValidationFailure()
		o.stopClearTimerLocked()
		next := cur.Clone()
		next.Error = err.Error()
		o.commitLocked(ctx, next)
		o.mu.Unlock()
		return next.Clone(), err
	}

	o.stopClearTimerLocked()
	pending := cur.Clone()
	pending.IsLoading = true
	pending.Error = ""
	pending.Context[o.script.KeyFor(cur.Step, question.ID)] = value
	o.commitLocked(ctx, pending)
	payload := o.payload(ctx, pending, question, value)
	o.mu.Unlock()

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.ctx, cancel)
	reply, remoteErr := o.opts.Remote.Send(callCtx, payload)
	stop()
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return o.state.Clone(), ErrClosed
	}

	// The visitor may have gone away; the outcome is still persisted.
	ctx = context.WithoutCancel(ctx)
	base := o.state.Clone()
	base.IsLoading = false

	if remoteErr == nil && reply.Kind != domain.ReplyFinish && reply.Next == nil && !o.atLastStep(base.Step) {
		remoteErr = fmt.Errorf("%w: reply without next question", webhook.ErrProtocol)
	}
	if remoteErr != nil {
		return o.applyFailureLocked(ctx, base, question, remoteErr)
	}
	o.applyReplyLocked(ctx, base, reply)
	return o.state.Clone(), nil
}

func (o *Orchestrator) applyReplyLocked(ctx context.Context, s domain.Session, reply domain.Reply) {
	if reply.Kind == domain.ReplyFinish || o.atLastStep(s.Step) {
		o.finishLocked(ctx, s, reply.Summary)
		return
	}

	nextStep := s.Step + 1
	next := *reply.Next
	if next.ID == "" {
		next.ID = fmt.Sprintf("q%02d", nextStep)
	}
	if next.Input.Type == "" {
		next.Input = domain.DefaultInput()
	}
	next.Text = placeholder.Render(next.Text, s.Context, o.script.Locale)

	if o.opts.Variant == VariantServer {
		s.QuestionHistory = append(s.QuestionHistory, s.CurrentQuestion)
	}
	s.Step = nextStep
	s.CurrentQuestion = next
	s.IsFinished = false
	s.Progress = o.advanceProgress(s.Progress, nextStep, reply.Progress)

	o.commitLocked(ctx, s)
	metrics.IncTransition("advance")
	o.logger.Debug("Session advanced", "session_id", s.SessionID, "step", s.Step, "question_id", next.ID)
}

func (o *Orchestrator) finishLocked(ctx context.Context, s domain.Session, summary *string) {
	s.IsFinished = true
	s.Progress = 100
	s.Summary = nil
	if summary != nil {
		text := *summary
		s.Summary = &text
	}
	o.commitLocked(ctx, s)
	metrics.IncTransition("finish")
	o.logger.Info("Session finished", "session_id", s.SessionID, "step", s.Step, "has_summary", s.Summary != nil)
}

// applyFailureLocked handles a failed remote call according to the variant.
func (o *Orchestrator) applyFailureLocked(ctx context.Context, s domain.Session, question domain.Question, remoteErr error) (domain.Session, error) {
	protocol := errors.Is(remoteErr, webhook.ErrProtocol)

	if o.opts.Variant == VariantServer {
		s.Error = o.script.Messages.ServiceUnavailable
		if protocol {
			s.Error = o.script.Messages.InvalidReply
		}
		o.commitLocked(ctx, s)
		metrics.IncTransition("stall")
		o.logger.Warn("Remote question service failed, session stalled",
			"session_id", s.SessionID,
			"step", s.Step,
			"question_id", question.ID,
			"error", remoteErr,
		)
		return o.state.Clone(), fmt.Errorf("submit answer: %w", remoteErr)
	}

	o.logger.Warn("Remote question service failed, using local script",
		"session_id", s.SessionID,
		"step", s.Step,
		"question_id", question.ID,
		"error", remoteErr,
	)
	metrics.IncTransition("fallback")

	notice := o.script.Messages.UnstableConnection
	if protocol {
		notice = o.script.Messages.InvalidReply
	}

	nextStep := s.Step + 1
	local, ok := o.script.At(nextStep)
	if ok {
		local.Text = placeholder.Render(local.Text, s.Context, o.script.Locale)
		s.Step = nextStep
		s.CurrentQuestion = local
		s.Progress = o.advanceProgress(s.Progress, nextStep, nil)
	} else {
		s.IsFinished = true
		s.Progress = 100
		s.Summary = nil
		metrics.IncTransition("finish")
	}
	s.Error = notice
	o.commitLocked(ctx, s)

	// Transport trouble is transient; a malformed reply stays until dismissed.
	if !protocol {
		o.scheduleClearLocked(notice)
	}
	return o.state.Clone(), nil
}

func (o *Orchestrator) payload(ctx context.Context, s domain.Session, q domain.Question, answer domain.Value) domain.WebhookPayload {
	p := domain.WebhookPayload{
		Source:       o.opts.Source,
		SessionID:    s.SessionID,
		Step:         s.Step,
		QuestionID:   q.ID,
		QuestionText: q.Text,
		Answer:       answer,
		Context:      s.Context.Clone(),
		Timestamp:    o.opts.Now().UTC().Format(timestampLayout),
		UserAgent:    clientDescriptor(ctx, o.opts.UserAgent),
	}
	if o.atLastStep(s.Step) {
		p.Action = domain.ActionFinish
	}
	return p
}

// totalSteps is the known length of the flow, or 0 when unknown.
func (o *Orchestrator) totalSteps() int {
	if o.opts.Variant == VariantScripted {
		return o.script.Len()
	}
	return o.opts.TotalSteps
}

func (o *Orchestrator) atLastStep(step int) bool {
	total := o.totalSteps()
	return total > 0 && step >= total
}

// estimate is the progress implied by the step index alone.
func (o *Orchestrator) estimate(step int) int {
	if total := o.totalSteps(); total > 0 {
		return clampPercent(int(math.Round(float64(step) / float64(total) * 100)))
	}
	return clampPercent(step * o.opts.StepPercent)
}

// advanceProgress never moves backwards while advancing.
func (o *Orchestrator) advanceProgress(prev, step int, remote *int) int {
	p := max(prev, o.estimate(step))
	if remote != nil {
		p = max(p, *remote)
	}
	return clampPercent(p)
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
