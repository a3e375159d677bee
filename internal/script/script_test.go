package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluia/leadmagnet/internal/domain"
)

func TestDefaultScript(t *testing.T) {
	t.Parallel()

	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 11, s.Len())
	assert.Equal(t, "q01", s.First().ID)
	assert.Equal(t, domain.InputTextarea, s.First().Input.Type)
	assert.Equal(t, "y", s.Locale.And)
	assert.Equal(t, "Este campo es obligatorio", s.Messages.Required)

	q, ok := s.At(4)
	require.True(t, ok)
	assert.Equal(t, domain.InputMultiSelect, q.Input.Type)
	assert.NotEmpty(t, q.Input.Options)

	_, ok = s.At(0)
	assert.False(t, ok)
	_, ok = s.At(12)
	assert.False(t, ok)
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	s, err := Default()
	require.NoError(t, err)

	tests := []struct {
		step int
		id   string
		want string
	}{
		{1, "q01", "empresa_actividad"},
		{1, "ai-intro", "empresa_actividad"},
		{2, "q02", "equipo_num"},
		{11, "q11", "email_contacto"},
		{5, "q_dinamica", "q_dinamica"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.KeyFor(tt.step, tt.id), "step %d id %s", tt.step, tt.id)
	}
}

func TestAtReturnsCopy(t *testing.T) {
	t.Parallel()

	s, err := Default()
	require.NoError(t, err)

	q, _ := s.At(3)
	q.Input.Options[0] = "changed"

	again, _ := s.At(3)
	assert.NotEqual(t, "changed", again.Input.Options[0])
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":          `questions: []`,
		"select without": "questions:\n  - id: a\n    text: A\n    input: {type: select}\n",
		"unknown type":   "questions:\n  - id: a\n    text: A\n    input: {type: slider}\n",
		"duplicate id":   "questions:\n  - id: a\n    text: A\n    input: {type: text}\n  - id: a\n    text: B\n    input: {type: text}\n",
		"duplicate key":  "keys: {a: k, b: k}\nquestions:\n  - id: a\n    text: A\n    input: {type: text}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.yaml")
	doc := "questions:\n  - id: only\n    text: Hola\n    input: {type: text, required: true}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "ninguna herramienta especificada", s.Locale.EmptyList)
	assert.NotEmpty(t, s.Messages.UnstableConnection)
	assert.Equal(t, "only", s.KeyFor(1, "only"))
}
