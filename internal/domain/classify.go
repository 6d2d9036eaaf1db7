package domain

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"
)

// Classify decides the handle kind of an operation. A GET with no required
// inputs and no path placeholders is a Resource; everything else is a Tool.
// Tags and other hints are deliberately ignored.
func Classify(op OperationSpec) HandleKind {
	if strings.EqualFold(op.Method, http.MethodGet) &&
		!op.HasRequiredInputs() &&
		len(op.PathPlaceholders()) == 0 {
		return HandleResource
	}
	return HandleTool
}

// NameStyle selects how operation ids become handle names.
type NameStyle string

const (
	NameStyleVerbatim NameStyle = "verbatim"
	NameStyleSnake    NameStyle = "snake"
)

// MaxHandleNameLen is the longest identifier MCP hosts accept for tool names.
const MaxHandleNameLen = 64

// HandleNamer assigns unique handle names in call order. Feed it operations
// in document declaration order so names stay reproducible across runs.
// It is not safe for concurrent use.
type HandleNamer struct {
	style    NameStyle
	assigned map[string]struct{}
}

// NewHandleNamer returns a namer with an empty name set.
func NewHandleNamer(style NameStyle) *HandleNamer {
	if style == "" {
		style = NameStyleVerbatim
	}
	return &HandleNamer{style: style, assigned: make(map[string]struct{})}
}

// Assign returns the canonical name for operationID. The first occurrence of
// a base name keeps it; later ones get _2, _3, ...
func (n *HandleNamer) Assign(operationID string) string {
	base := SanitizeName(operationID, n.style)
	name := base
	for i := 2; n.taken(name); i++ {
		suffix := "_" + strconv.Itoa(i)
		name = truncate(base, MaxHandleNameLen-len(suffix)) + suffix
	}
	n.assigned[name] = struct{}{}
	return name
}

func (n *HandleNamer) taken(name string) bool {
	_, ok := n.assigned[name]
	return ok
}

// SanitizeName maps s onto the MCP identifier alphabet [a-zA-Z0-9_-],
// replacing every other character with '_'.
func SanitizeName(s string, style NameStyle) string {
	if style == NameStyleSnake {
		s = toSnake(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "operation"
	}
	return truncate(out, MaxHandleNameLen)
}

func isIdentRune(r rune) bool {
	return r < unicode.MaxASCII && (r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
}

// toSnake converts camelCase and PascalCase to lower_snake.
// Acronyms stay together: getHTTPStatus -> get_http_status.
func toSnake(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' || r == '.' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
