// Package session implements the form's state machine and the registry of
// live sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/metrics"
	"github.com/fluia/leadmagnet/internal/placeholder"
	"github.com/fluia/leadmagnet/internal/script"
)

// timestampLayout is ISO-8601 with milliseconds, always in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrBusy is returned while a submission is waiting on the remote service.
	ErrBusy = fmt.Errorf("session is waiting for the remote service: %w", errdefs.ErrConflict)
	// ErrNotStarted is returned when answering before Start.
	ErrNotStarted = fmt.Errorf("session has not started: %w", errdefs.ErrFailedPrecondition)
	// ErrFinished is returned when answering a finished session.
	ErrFinished = fmt.Errorf("session is finished: %w", errdefs.ErrFailedPrecondition)
	// ErrNotFound is returned when restoring an unknown session id.
	ErrNotFound = fmt.Errorf("session not found: %w", errdefs.ErrNotFound)
	// ErrClosed is returned after Close.
	ErrClosed = fmt.Errorf("session is closed: %w", errdefs.ErrFailedPrecondition)
)

// Orchestrator owns one Session and drives its transitions. Every
// transition replaces the held Session with a new value, persists it and
// notifies subscribers.
type Orchestrator struct {
	opts   Options
	script *script.Script
	logger *slog.Logger

	// ctx is canceled by Close and bounds in-flight remote calls.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      domain.Session
	lastActive time.Time
	closed     bool

	clearTimer *time.Timer
	clearGen   uint64

	subs    map[int]chan domain.Session
	nextSub int
}

// New creates an orchestrator with an empty session. Call Initialize or
// Restore before using it.
func New(opts Options) (*Orchestrator, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:       opts,
		script:     opts.Script,
		logger:     opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		lastActive: opts.Now(),
		subs:       make(map[int]chan domain.Session),
	}, nil
}

// Variant returns the deployment variant.
func (o *Orchestrator) Variant() Variant { return o.opts.Variant }

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// LastActive is the time of the last transition.
func (o *Orchestrator) LastActive() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActive
}

// Initialize starts a fresh session with a new id on the first question.
func (o *Orchestrator) Initialize(ctx context.Context) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.Session{}, ErrClosed
	}
	o.stopClearTimerLocked()
	o.commitLocked(ctx, o.fresh())
	metrics.IncTransition("initialize")
	o.logger.Info("Session initialized", "session_id", o.state.SessionID, "variant", o.opts.Variant)
	return o.state.Clone(), nil
}

func (o *Orchestrator) fresh() domain.Session {
	first := o.script.First()
	first.Text = placeholder.Render(first.Text, nil, o.script.Locale)
	return domain.Session{
		SessionID:       o.opts.NewID(),
		Context:         domain.Context{},
		CurrentQuestion: first,
		QuestionHistory: []domain.Question{},
	}
}

// Restore loads a persisted session. A snapshot saved mid-submission is
// restored with its loading flag cleared so the visitor can resubmit.
func (o *Orchestrator) Restore(ctx context.Context, sessionID string) (domain.Session, error) {
	saved, err := o.opts.Store.Load(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	if saved == nil {
		return domain.Session{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.Session{}, ErrClosed
	}

	next := saved.Clone()
	if next.Context == nil {
		next.Context = domain.Context{}
	}
	if next.QuestionHistory == nil {
		next.QuestionHistory = []domain.Question{}
	}
	if next.IsLoading {
		next.IsLoading = false
		o.commitLocked(ctx, next)
	} else {
		o.setLocked(next)
	}
	o.logger.Debug("Session restored", "session_id", next.SessionID, "step", next.Step)
	return o.state.Clone(), nil
}

// AcceptPrivacy records consent.
func (o *Orchestrator) AcceptPrivacy(ctx context.Context) (domain.Session, error) {
	return o.transition(ctx, false, func(s *domain.Session) bool {
		if s.PrivacyAccepted {
			return false
		}
		s.PrivacyAccepted = true
		return true
	})
}

// Start moves to step 1 with one unit of progress. Starting twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) (domain.Session, error) {
	return o.transition(ctx, true, func(s *domain.Session) bool {
		if s.HasStarted {
			return false
		}
		s.HasStarted = true
		s.Step = 1
		s.Progress = o.estimate(1)
		metrics.IncTransition("start")
		return true
	})
}

// ClearError clears the error field only.
func (o *Orchestrator) ClearError(ctx context.Context) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.Session{}, ErrClosed
	}
	o.stopClearTimerLocked()
	if o.state.Error != "" {
		next := o.state.Clone()
		next.Error = ""
		o.commitLocked(ctx, next)
	}
	return o.state.Clone(), nil
}

// GoBack retreats one step. It is a no-op at step 1 or below, and in the
// server variant when there is no history to return to.
func (o *Orchestrator) GoBack(ctx context.Context) (domain.Session, error) {
	return o.transition(ctx, true, func(s *domain.Session) bool {
		if s.Step <= 1 {
			return false
		}
		if o.opts.Variant == VariantServer {
			if !o.popHistory(s) {
				return false
			}
		} else {
			prev, ok := o.script.At(s.Step - 1)
			if !ok {
				return false
			}
			prev.Text = placeholder.Render(prev.Text, s.Context, o.script.Locale)
			s.Step--
			s.CurrentQuestion = prev
			s.Progress = o.estimate(s.Step)
		}
		s.IsFinished = false
		s.Summary = nil
		metrics.IncTransition("back")
		return true
	})
}

func (o *Orchestrator) popHistory(s *domain.Session) bool {
	n := len(s.QuestionHistory)
	if n == 0 {
		return false
	}
	restored := s.QuestionHistory[n-1]
	s.QuestionHistory = s.QuestionHistory[:n-1]
	s.Step--
	delete(s.Context, o.script.KeyFor(s.Step, restored.ID))
	s.CurrentQuestion = restored
	s.Progress = o.estimate(s.Step)
	return true
}

// Reset clears the persisted snapshot and starts over with a new id.
func (o *Orchestrator) Reset(ctx context.Context) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.Session{}, ErrClosed
	}
	if o.state.IsLoading {
		return o.state.Clone(), ErrBusy
	}

	old := o.state.SessionID
	if old != "" {
		if err := o.opts.Store.Clear(ctx, old); err != nil {
			o.logger.Warn("Failed to clear session snapshot", "session_id", old, "error", err)
		}
	}
	o.stopClearTimerLocked()
	o.commitLocked(ctx, o.fresh())
	metrics.IncTransition("reset")
	o.logger.Info("Session reset", "previous_session_id", old, "session_id", o.state.SessionID)
	return o.state.Clone(), nil
}

// Subscribe returns a channel that receives every new snapshot, starting
// with the current one. Slow readers only see the latest snapshot. The
// returned func unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe() (<-chan domain.Session, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan domain.Session, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.state.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

// Close stops timers, cancels in-flight remote calls and closes subscribers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.cancel()
	o.stopClearTimerLocked()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}

// transition applies fn to a copy of the state and commits it when fn
// reports a change. Transitions that touch navigation are refused while
// loading.
func (o *Orchestrator) transition(ctx context.Context, guardLoading bool, fn func(*domain.Session) bool) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.Session{}, ErrClosed
	}
	if guardLoading && o.state.IsLoading {
		return o.state.Clone(), ErrBusy
	}
	next := o.state.Clone()
	if fn(&next) {
		o.commitLocked(ctx, next)
	}
	return o.state.Clone(), nil
}

// setLocked replaces the state and notifies subscribers without persisting.
func (o *Orchestrator) setLocked(next domain.Session) {
	o.state = next
	o.lastActive = o.opts.Now()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next.Clone()
	}
}

// commitLocked replaces the state and persists it. Storage failures are
// logged; the in-memory session stays authoritative.
func (o *Orchestrator) commitLocked(ctx context.Context, next domain.Session) {
	o.setLocked(next)
	if err := o.opts.Store.Save(ctx, next); err != nil {
		o.logger.Error("Failed to persist session", "session_id", next.SessionID, "step", next.Step, "error", err)
	}
}

func (o *Orchestrator) stopClearTimerLocked() {
	o.clearGen++
	if o.clearTimer != nil {
		o.clearTimer.Stop()
		o.clearTimer = nil
	}
}

// scheduleClearLocked clears notice after the configured delay unless
// another transition changed the error first.
func (o *Orchestrator) scheduleClearLocked(notice string) {
	o.stopClearTimerLocked()
	gen := o.clearGen
	o.clearTimer = time.AfterFunc(o.opts.ErrorClearDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed || gen != o.clearGen || o.state.Error != notice {
			return
		}
		o.clearTimer = nil
		next := o.state.Clone()
		next.Error = ""
		o.commitLocked(o.ctx, next)
	})
}
