package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/fluia/leadmagnet/internal/domain"
)

// wireReply is the loose shape the remote service answers with.
type wireReply struct {
	OK           *bool           `json:"ok"`
	NextQuestion json.RawMessage `json:"next_question"`
	Progress     *float64        `json:"progress"`
	End          bool            `json:"end"`
	Summary      *string         `json:"summary"`
}

type wireQuestion struct {
	ID           string          `json:"id"`
	Text         string          `json:"text"`
	Input        *domain.Input   `json:"input"`
	Placeholders json.RawMessage `json:"placeholders"`
}

// Decode normalizes a reply body. A one-element array is unwrapped; an
// empty array, ok:false, or a body with neither next_question nor end is
// reported as ErrProtocol.
func Decode(data []byte) (domain.Reply, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 {
		return domain.Reply{}, fmt.Errorf("%w: empty body", ErrProtocol)
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return domain.Reply{}, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		if len(items) == 0 {
			return domain.Reply{}, fmt.Errorf("%w: empty reply list", ErrProtocol)
		}
		body = items[0]
	}

	var w wireReply
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.Reply{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if w.OK != nil && !*w.OK {
		return domain.Reply{}, fmt.Errorf("%w: service reported ok=false", ErrProtocol)
	}

	progress := w.progress()

	if w.End {
		reply := domain.Reply{Kind: domain.ReplyFinish, Progress: progress}
		if w.Summary != nil && *w.Summary != "" {
			summary := *w.Summary
			reply.Summary = &summary
		}
		return reply, nil
	}

	next, err := decodeQuestion(w.NextQuestion)
	if err != nil {
		return domain.Reply{}, err
	}
	if next == nil {
		return domain.Reply{}, fmt.Errorf("%w: reply has neither next_question nor end", ErrProtocol)
	}
	return domain.Reply{Kind: domain.ReplyAdvance, Next: next, Progress: progress}, nil
}

func (w wireReply) progress() *int {
	if w.Progress == nil || math.IsNaN(*w.Progress) {
		return nil
	}
	p := int(math.Round(*w.Progress))
	return &p
}

// decodeQuestion accepts a bare string or a Question-shaped object.
func decodeQuestion(raw json.RawMessage) (*domain.Question, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return &domain.Question{Text: text, Input: domain.DefaultInput()}, nil
	case '{':
		var wq wireQuestion
		if err := json.Unmarshal(raw, &wq); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		q := domain.Question{
			ID:           wq.ID,
			Text:         wq.Text,
			Input:        domain.DefaultInput(),
			Placeholders: wq.Placeholders,
		}
		if wq.Input != nil && wq.Input.Type != "" {
			q.Input = *wq.Input
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return &q, nil
	default:
		return nil, fmt.Errorf("%w: next_question must be a string or an object", ErrProtocol)
	}
}
