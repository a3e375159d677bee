// Package domain contains the core types of the conversational form.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// InputType is the wire name of a question's input variant.
type InputType string

const (
	InputText        InputType = "text"
	InputNumber      InputType = "number"
	InputSelect      InputType = "select"
	InputMultiSelect InputType = "multiselect"
	InputEmail       InputType = "email"
	InputTextarea    InputType = "textarea"
)

var (
	errUnknownInputType = errors.New("unknown input type")
	errMissingOptions   = errors.New("choice input requires options")
	errUnexpectedOption = errors.New("options are only allowed on choice inputs")
	errEmptyText        = errors.New("question text is empty")
)

// Valid reports whether t is one of the known input variants.
func (t InputType) Valid() bool {
	switch t {
	case InputText, InputNumber, InputSelect, InputMultiSelect, InputEmail, InputTextarea:
		return true
	}
	return false
}

// HasChoices reports whether the variant presents a choice list.
func (t InputType) HasChoices() bool {
	return t == InputSelect || t == InputMultiSelect
}

// Input describes how an answer is collected.
type Input struct {
	Type        InputType `json:"type" yaml:"type"`
	Options     []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// DefaultInput is applied to server questions that omit their input.
func DefaultInput() Input {
	return Input{Type: InputText, Required: true}
}

// Question is one unit of the dialog. Text may contain {token} placeholders.
type Question struct {
	ID           string          `json:"id" yaml:"id"`
	Text         string          `json:"text" yaml:"text"`
	Input        Input           `json:"input" yaml:"input"`
	Placeholders json.RawMessage `json:"placeholders,omitempty" yaml:"-"`
}

// Validate checks the question invariants.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question %q: %w", q.ID, errEmptyText)
	}
	if !q.Input.Type.Valid() {
		return fmt.Errorf("question %q: %w: %q", q.ID, errUnknownInputType, q.Input.Type)
	}
	if q.Input.Type.HasChoices() && len(q.Input.Options) == 0 {
		return fmt.Errorf("question %q: %w", q.ID, errMissingOptions)
	}
	if !q.Input.Type.HasChoices() && len(q.Input.Options) > 0 {
		return fmt.Errorf("question %q: %w", q.ID, errUnexpectedOption)
	}
	return nil
}

// Clone returns a deep copy.
func (q Question) Clone() Question {
	q.Input.Options = slices.Clone(q.Input.Options)
	q.Placeholders = slices.Clone(q.Placeholders)
	return q
}
