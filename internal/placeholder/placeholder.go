// Package placeholder substitutes prior answers into question text.
package placeholder

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fluia/leadmagnet/internal/domain"
)

// Locale holds the words used when rendering lists.
type Locale struct {
	And       string `yaml:"and"`
	EmptyList string `yaml:"empty_list"`
}

// DefaultLocale is Spanish, matching the bundled script.
var DefaultLocale = Locale{
	And:       "y",
	EmptyList: "ninguna herramienta especificada",
}

var tokenPattern = regexp.MustCompile(`\{(\w+)\}`)

// Render replaces every {key} whose key holds a value in ctx.
// Unknown or empty keys are left verbatim. Substitution is a single pass.
func Render(text string, ctx domain.Context, loc Locale) string {
	if len(ctx) == 0 || !strings.Contains(text, "{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := ctx[key]
		if !ok || v.IsEmpty() {
			return match
		}
		return renderValue(v, loc)
	})
}

func renderValue(v domain.Value, loc Locale) string {
	switch v.Kind() {
	case domain.KindList:
		return FormatList(v.Items(), loc)
	case domain.KindNumber:
		return strconv.FormatInt(v.Int(), 10)
	case domain.KindRaw:
		return string(v.RawJSON())
	default:
		return v.Str()
	}
}

// FormatList joins items as a natural-language list: "A", "A y B", "A, B y C".
func FormatList(items []string, loc Locale) string {
	loc = loc.withDefaults()
	switch len(items) {
	case 0:
		return loc.EmptyList
	case 1:
		return items[0]
	case 2:
		return items[0] + " " + loc.And + " " + items[1]
	default:
		last := len(items) - 1
		return strings.Join(items[:last], ", ") + " " + loc.And + " " + items[last]
	}
}

func (l Locale) withDefaults() Locale {
	if l.And == "" {
		l.And = DefaultLocale.And
	}
	if l.EmptyList == "" {
		l.EmptyList = DefaultLocale.EmptyList
	}
	return l
}
