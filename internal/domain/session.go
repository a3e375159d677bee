package domain

// Session is the state of one visitor's run through the form.
// Transitions never mutate a Session in place; they produce a new value.
type Session struct {
	SessionID       string     `json:"sessionId"`
	Step            int        `json:"step"`
	Context         Context    `json:"context"`
	Progress        int        `json:"progress"`
	CurrentQuestion Question   `json:"currentQuestion"`
	QuestionHistory []Question `json:"questionHistory"`
	IsLoading       bool       `json:"isLoading"`
	Error           string     `json:"error,omitempty"`
	HasStarted      bool       `json:"hasStarted"`
	PrivacyAccepted bool       `json:"privacyAccepted"`
	IsFinished      bool       `json:"isFinished"`
	Summary         *string    `json:"summary"`
}

// Clone returns a deep copy so the caller can derive the next state.
func (s Session) Clone() Session {
	out := s
	out.Context = s.Context.Clone()
	out.CurrentQuestion = s.CurrentQuestion.Clone()
	out.QuestionHistory = make([]Question, len(s.QuestionHistory))
	for i, q := range s.QuestionHistory {
		out.QuestionHistory[i] = q.Clone()
	}
	if s.Summary != nil {
		summary := *s.Summary
		out.Summary = &summary
	}
	return out
}

// CanGoBack reports whether a GoBack transition would change anything
// for a flow that navigates through server history.
func (s Session) CanGoBack() bool {
	return s.Step > 1
}
