package domain

// ActionFinish is sent on the last known step of the flow.
const ActionFinish = "finish"

// WebhookPayload is the request body sent to the remote question service.
type WebhookPayload struct {
	Source       string  `json:"source"`
	SessionID    string  `json:"sessionId"`
	Step         int     `json:"step"`
	QuestionID   string  `json:"questionId"`
	QuestionText string  `json:"questionText"`
	Answer       Value   `json:"answer"`
	Context      Context `json:"context"`
	Timestamp    string  `json:"timestamp"`
	UserAgent    string  `json:"userAgent"`
	Action       string  `json:"action,omitempty"`
}

// ReplyKind classifies a normalized remote reply.
type ReplyKind uint8

const (
	// ReplyAdvance carries the next question.
	ReplyAdvance ReplyKind = iota + 1
	// ReplyFinish ends the session.
	ReplyFinish
)

// Reply is the remote service response after boundary normalization.
// Next is set for ReplyAdvance; its ID and Input may still be zero and are
// filled in by the orchestrator.
type Reply struct {
	Kind     ReplyKind
	Next     *Question
	Progress *int
	Summary  *string
}
