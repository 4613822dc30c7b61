package plugin

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/amia-bot/amia/internal/onebot"
)

// Match carries what a matcher extracted from the message.
type Match struct {
	// Matched is the substring a text_pattern trigger matched.
	Matched string
	// Args is the text after the command word for text_command triggers.
	Args string
}

// Matcher decides whether a trigger fires for a message. mustPrefix only
// affects text_command triggers; others ignore it.
type Matcher interface {
	Match(msg *onebot.Message, prefixes []string, mustPrefix bool) (*Match, bool)
}

// NewMatcher compiles a message matcher for a trigger spec. Schedule
// triggers have no message matcher and return (nil, nil).
func NewMatcher(spec *TriggerSpec) (Matcher, error) {
	switch spec.Type {
	case TriggerTextPattern:
		re, err := regexp.Compile(spec.ParamString("pattern"))
		if err != nil {
			return nil, fmt.Errorf("trigger %q: bad pattern: %w", spec.ID, err)
		}
		return &patternMatcher{re: re}, nil

	case TriggerTextCommand:
		cmd := strings.TrimSpace(spec.ParamString("command"))
		if cmd == "" {
			return nil, fmt.Errorf("trigger %q: empty command", spec.ID)
		}
		return &commandMatcher{command: cmd}, nil

	case TriggerMatchMessage:
		pattern, ok := spec.Params["matches"]
		if !ok {
			return nil, fmt.Errorf("trigger %q: missing matches", spec.ID)
		}
		mode := spec.ParamString("array_match_type")
		if mode == "" {
			mode = "all"
		}
		if mode != "all" && mode != "contains" {
			return nil, fmt.Errorf("trigger %q: bad array_match_type %q", spec.ID, mode)
		}
		return &messageMatcher{pattern: pattern, arrayMode: mode}, nil

	case TriggerSchedule:
		return nil, nil

	default:
		return nil, fmt.Errorf("trigger %q: unknown type %q", spec.ID, spec.Type)
	}
}

// patternMatcher fires when the regex matches anywhere in the message
// text. Matching is case-sensitive unless the pattern opts out with (?i).
type patternMatcher struct {
	re *regexp.Regexp
}

func (m *patternMatcher) Match(msg *onebot.Message, _ []string, _ bool) (*Match, bool) {
	loc := m.re.FindStringIndex(msg.Text)
	if loc == nil {
		return nil, false
	}
	return &Match{Matched: msg.Text[loc[0]:loc[1]]}, true
}

// commandMatcher fires when the message starts with a configured prefix
// followed by the command word. With mustPrefix off, the bare command
// also fires.
type commandMatcher struct {
	command string
}

func (m *commandMatcher) Match(msg *onebot.Message, prefixes []string, mustPrefix bool) (*Match, bool) {
	text := strings.TrimSpace(msg.Text)

	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if args, ok := cutCommand(text, prefix+m.command); ok {
			return &Match{Args: args}, true
		}
	}
	if !mustPrefix {
		if args, ok := cutCommand(text, m.command); ok {
			return &Match{Args: args}, true
		}
	}
	return nil, false
}

// cutCommand strips a leading command word, requiring a word boundary
// (end of text or whitespace) so "/echo" does not fire on "/echoes".
func cutCommand(text, head string) (string, bool) {
	if !strings.HasPrefix(text, head) {
		return "", false
	}
	rest := text[len(head):]
	if rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsSpace(r) {
			return "", false
		}
	}
	return strings.TrimSpace(rest), true
}

// messageMatcher fires when the structural pattern matches the decoded
// event document.
type messageMatcher struct {
	pattern   interface{}
	arrayMode string
}

func (m *messageMatcher) Match(msg *onebot.Message, _ []string, _ bool) (*Match, bool) {
	doc := msg.Decoded()
	if doc == nil {
		return nil, false
	}
	if !structuralMatch(m.pattern, doc, m.arrayMode) {
		return nil, false
	}
	return &Match{}, true
}

// structuralMatch checks pattern against data. Maps require every pattern
// key to exist and match. Arrays in "all" mode must have equal length and
// match element-wise; in "contains" mode every pattern element must match
// some data element. Scalars compare by normalized equality.
func structuralMatch(pattern, data interface{}, arrayMode string) bool {
	switch p := pattern.(type) {
	case map[string]interface{}:
		d, ok := data.(map[string]interface{})
		if !ok {
			return false
		}
		for k, pv := range p {
			dv, ok := d[k]
			if !ok || !structuralMatch(pv, dv, arrayMode) {
				return false
			}
		}
		return true

	case []interface{}:
		d, ok := data.([]interface{})
		if !ok {
			return false
		}
		if arrayMode == "contains" {
			for _, pv := range p {
				found := false
				for _, dv := range d {
					if structuralMatch(pv, dv, arrayMode) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		}
		if len(p) != len(d) {
			return false
		}
		for i := range p {
			if !structuralMatch(p[i], d[i], arrayMode) {
				return false
			}
		}
		return true

	default:
		return scalarEqual(pattern, data)
	}
}

// scalarEqual compares scalars, treating all numeric representations of
// the same value as equal. JSON decoding yields float64, Lua bridging
// yields int64, so 10001 must equal 10001.0.
func scalarEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
