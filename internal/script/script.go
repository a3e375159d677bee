// Package script loads the local question list, the context-key table and
// the user-visible messages of the form.
package script

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/placeholder"
	"github.com/fluia/leadmagnet/internal/validation"
)

//go:embed default.yaml
var defaultScript []byte

var (
	errNoQuestions  = errors.New("script has no questions")
	errDuplicateID  = errors.New("duplicate question id")
	errDuplicateKey = errors.New("duplicate context key")
)

// Messages are the user-visible texts emitted by the form.
type Messages struct {
	Required           string `yaml:"required"`
	InvalidEmail       string `yaml:"invalid_email"`
	UnstableConnection string `yaml:"unstable_connection"`
	ServiceUnavailable string `yaml:"service_unavailable"`
	InvalidReply       string `yaml:"invalid_reply"`
}

// Validation returns the subset used by answer validation.
func (m Messages) Validation() validation.Messages {
	return validation.Messages{
		Required:     m.Required,
		InvalidEmail: m.InvalidEmail,
	}
}

// Script is the static side of a form deployment.
type Script struct {
	Locale    placeholder.Locale `yaml:"locale"`
	Messages  Messages           `yaml:"messages"`
	FirstKey  string             `yaml:"first_key"`
	Keys      map[string]string  `yaml:"keys"`
	Questions []domain.Question  `yaml:"questions"`
}

// Default returns the embedded script.
func Default() (*Script, error) {
	return Parse(defaultScript)
}

// Load reads a script from path, or the embedded default when path is empty.
func Load(path string) (*Script, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) applyDefaults() {
	if s.Locale.And == "" {
		s.Locale.And = placeholder.DefaultLocale.And
	}
	if s.Locale.EmptyList == "" {
		s.Locale.EmptyList = placeholder.DefaultLocale.EmptyList
	}
	if s.Messages.Required == "" {
		s.Messages.Required = validation.DefaultMessages.Required
	}
	if s.Messages.InvalidEmail == "" {
		s.Messages.InvalidEmail = validation.DefaultMessages.InvalidEmail
	}
	if s.Messages.UnstableConnection == "" {
		s.Messages.UnstableConnection = "Conexión inestable, seguimos sin perder tu información"
	}
	if s.Messages.ServiceUnavailable == "" {
		s.Messages.ServiceUnavailable = s.Messages.UnstableConnection
	}
	if s.Messages.InvalidReply == "" {
		s.Messages.InvalidReply = "No se recibió la siguiente pregunta del servidor"
	}
	if s.Keys == nil {
		s.Keys = map[string]string{}
	}
}

// Validate checks every question and the key table.
func (s *Script) Validate() error {
	if len(s.Questions) == 0 {
		return errNoQuestions
	}
	ids := make(map[string]struct{}, len(s.Questions))
	for _, q := range s.Questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("%w: %q", errDuplicateID, q.ID)
		}
		ids[q.ID] = struct{}{}
	}
	keys := make(map[string]string, len(s.Keys))
	for id, key := range s.Keys {
		if other, dup := keys[key]; dup {
			return fmt.Errorf("%w: %q used by %q and %q", errDuplicateKey, key, other, id)
		}
		keys[key] = id
	}
	return nil
}

// Len is the number of local questions.
func (s *Script) Len() int { return len(s.Questions) }

// First returns the opening question.
func (s *Script) First() domain.Question {
	return s.Questions[0].Clone()
}

// At returns the question for a 1-based step.
func (s *Script) At(step int) (domain.Question, bool) {
	if step < 1 || step > len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[step-1].Clone(), true
}

// KeyFor maps the question answered at step to its context key. The
// opening question always lands on FirstKey so later text can reference it
// whatever id the question carried.
func (s *Script) KeyFor(step int, questionID string) string {
	if step == 1 && s.FirstKey != "" {
		return s.FirstKey
	}
	if key, ok := s.Keys[questionID]; ok {
		return key
	}
	return questionID
}
