// Package validation sanitizes raw answers and checks required fields.
package validation

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/fluia/leadmagnet/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Messages are the user-visible texts for validation failures.
type Messages struct {
	Required     string
	InvalidEmail string
}

// DefaultMessages match the bundled Spanish script.
var DefaultMessages = Messages{
	Required:     "Este campo es obligatorio",
	InvalidEmail: "Por favor, introduce un email válido",
}

// Error is a local, user-correctable validation failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap classifies validation failures as invalid arguments.
func (e *Error) Unwrap() error { return errdefs.ErrInvalidArgument }

// Sanitize normalizes a raw answer for the given input variant.
// Raw values are what encoding/json produces for an `any` target.
func Sanitize(raw any, t domain.InputType) domain.Value {
	switch t {
	case domain.InputText, domain.InputTextarea, domain.InputEmail:
		s, ok := raw.(string)
		if !ok {
			return domain.Text("")
		}
		return domain.Text(strings.TrimSpace(s))
	case domain.InputNumber:
		return parseNumber(raw)
	case domain.InputSelect:
		s, ok := raw.(string)
		if !ok {
			return domain.Text("")
		}
		return domain.Text(s)
	case domain.InputMultiSelect:
		return domain.List(toStrings(raw))
	default:
		if s, ok := raw.(string); ok {
			return domain.Text(s)
		}
		return domain.Empty()
	}
}

// Required reports whether v satisfies a required input of type t.
func Required(v domain.Value, t domain.InputType) bool {
	switch t {
	case domain.InputText, domain.InputTextarea, domain.InputEmail:
		return v.Kind() == domain.KindText && strings.TrimSpace(v.Str()) != ""
	case domain.InputNumber:
		return v.Kind() == domain.KindNumber && v.Int() > 0
	case domain.InputSelect:
		return v.Kind() == domain.KindText && v.Str() != ""
	case domain.InputMultiSelect:
		return v.Kind() == domain.KindList && len(v.Items()) > 0
	default:
		return !v.IsEmpty()
	}
}

// Email reports whether s looks like local@domain.tld.
func Email(s string) bool {
	return emailPattern.MatchString(s)
}

// Check sanitizes raw against q's input and returns the value to store,
// or an *Error carrying the message to show.
func Check(q domain.Question, raw any, msgs Messages) (domain.Value, error) {
	v := Sanitize(raw, q.Input.Type)

	if q.Input.Required && !Required(v, q.Input.Type) {
		return domain.Value{}, &Error{Message: msgs.Required}
	}
	if q.Input.Type == domain.InputEmail && v.Str() != "" && !Email(v.Str()) {
		return domain.Value{}, &Error{Message: msgs.InvalidEmail}
	}
	return v, nil
}

func parseNumber(raw any) domain.Value {
	switch n := raw.(type) {
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
		if math.IsNaN(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return domain.Empty()
		}
		return domain.Number(int64(n))
	case int:
		return domain.Number(int64(n))
	case int64:
		return domain.Number(n)
	case string:
		return parseLeadingInt(n)
	default:
		return domain.Empty()
	}
}

// parseLeadingInt reads an optional sign and the leading digits of s,
// so "12 personas" yields 12 and "abc" yields the empty marker.
func parseLeadingInt(s string) domain.Value {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return domain.Empty()
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return domain.Empty()
	}
	return domain.Number(n)
}

func toStrings(raw any) []string {
	switch items := raw.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
