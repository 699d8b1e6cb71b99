// Package template implements the {{ expr }} reference syntax: parsing a
// reference expression into a base key plus bracketed path, resolving it
// against the current cell set, and expanding whole templates.
//
// Resolution is deliberately forgiving: an unknown reference or a path
// that doesn't fit the value's shape degrades to the empty string, never
// an error. One bad reference must not break an entire prompt or code body.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/quillnb/quill/internal/cell"
)

// EnvBase is the reserved base key that resolves against the external
// environment mapping instead of the cell set.
const EnvBase = "ENV"

// Step is one bracketed accessor in a reference path: either a quoted
// string key or a bare integer index.
type Step struct {
	Key   string
	Index int
	IsKey bool
}

// KeyStep builds a string-key accessor.
func KeyStep(key string) Step { return Step{Key: key, IsKey: true} }

// IndexStep builds an integer-index accessor.
func IndexStep(i int) Step { return Step{Index: i} }

// Context carries everything a reference can resolve against.
type Context struct {
	Cells []cell.Cell
	Env   map[string]string
}

// refPattern matches {{ ... }} spans non-greedily, one reference per span.
var refPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// ParseKeyPath splits a reference expression into its base key and path.
//
// The base is the maximal leading run of identifier characters (letters,
// digits, underscore, '#'). The path is zero or more bracketed accessors
// consumed left-to-right immediately after the base; consumption stops at
// the first accessor that fails to match. Trailing garbage is not an
// error, it is simply not part of the path.
func ParseKeyPath(expr string) (string, []Step) {
	expr = strings.TrimSpace(expr)

	end := 0
	for end < len(expr) && isIdentByte(expr[end]) {
		end++
	}
	base := expr[:end]

	var path []Step
	rest := expr[end:]
	for {
		step, n, ok := parseAccessor(rest)
		if !ok {
			break
		}
		path = append(path, step)
		rest = rest[n:]
	}
	return base, path
}

// BuildRefExpression is the inverse of ParseKeyPath: it renders a base and
// path back into the expression form (without the surrounding braces).
func BuildRefExpression(base string, path []Step) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range path {
		if s.IsKey {
			b.WriteString("['")
			b.WriteString(s.Key)
			b.WriteString("']")
		} else {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// ResolveValue resolves a single reference expression to its string form.
// Misses of every kind (unknown base, bad path, wrong shape) return "".
func ResolveValue(expr string, ctx Context) string {
	base, path := ParseKeyPath(expr)
	if base == "" {
		return ""
	}

	var root any
	if base == EnvBase {
		env := make(map[string]any, len(ctx.Env))
		for k, v := range ctx.Env {
			env[k] = v
		}
		root = env
	} else {
		c, ok := LookupCell(ctx.Cells, base)
		if !ok {
			return ""
		}
		raw := c.Value()
		// Parse as JSON only when a path needs to walk into it, or the
		// value self-evidently is structured output.
		if len(path) > 0 || looksLikeJSON(raw) {
			if parsed, err := decodeJSON(raw); err == nil {
				root = parsed
			} else {
				root = raw
			}
		} else {
			root = raw
		}
	}

	val, ok := walkPath(root, path)
	if !ok {
		return ""
	}
	return stringify(val)
}

// ExpandTemplate replaces every {{ ... }} span in the template with its
// resolved value. Each span resolves independently; unresolvable spans
// become the empty string rather than aborting the expansion.
func ExpandTemplate(tmpl string, ctx Context) string {
	return refPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		inner := m[2 : len(m)-2]
		return ResolveValue(inner, ctx)
	})
}

// References returns the base keys referenced by a template, in order of
// first appearance. Path suffixes are dropped: dependency tracking is at
// cell granularity, not field granularity.
func References(tmpl string) []string {
	var keys []string
	seen := make(map[string]struct{})
	for _, m := range refPattern.FindAllStringSubmatch(tmpl, -1) {
		base, _ := ParseKeyPath(m[1])
		if base == "" || base == EnvBase {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		keys = append(keys, base)
	}
	return keys
}

// LookupCell resolves a base key to a cell: positional form first
// (#N or outN, 1-indexed), then id, then name. Duplicate names resolve to
// the last match in document order; that ambiguity is documented behavior.
func LookupCell(cells []cell.Cell, base string) (cell.Cell, bool) {
	if n, ok := positionalIndex(base); ok {
		if n >= 1 && n <= len(cells) {
			return cells[n-1], true
		}
		return cell.Cell{}, false
	}
	for _, c := range cells {
		if c.ID == base {
			return c, true
		}
	}
	want := NormalizeKey(base)
	found := false
	var match cell.Cell
	for _, c := range cells {
		if c.Name != "" && NormalizeKey(c.Name) == want {
			match = c
			found = true
		}
	}
	return match, found
}

// NormalizeKey NFC-normalizes a reference key so a name typed with
// combining characters matches its precomposed form.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// positionalIndex recognizes the #N and outN positional key forms.
func positionalIndex(base string) (int, bool) {
	var digits string
	switch {
	case strings.HasPrefix(base, "#"):
		digits = base[1:]
	case strings.HasPrefix(base, "out"):
		digits = base[3:]
	default:
		return 0, false
	}
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '#' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// parseAccessor matches one leading bracketed accessor. Returns the step,
// the number of bytes consumed, and whether the match succeeded.
func parseAccessor(s string) (Step, int, bool) {
	if len(s) == 0 || s[0] != '[' {
		return Step{}, 0, false
	}
	i := 1
	i = skipSpaces(s, i)
	if i >= len(s) {
		return Step{}, 0, false
	}

	if s[i] == '\'' || s[i] == '"' {
		quote := s[i]
		i++
		start := i
		for i < len(s) && s[i] != quote {
			i++
		}
		if i >= len(s) {
			return Step{}, 0, false
		}
		key := s[start:i]
		i++ // closing quote
		i = skipSpaces(s, i)
		if i >= len(s) || s[i] != ']' {
			return Step{}, 0, false
		}
		return KeyStep(key), i + 1, true
	}

	start := i
	if s[i] == '-' {
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start || (s[start] == '-' && i == start+1) {
		return Step{}, 0, false
	}
	numEnd := i
	i = skipSpaces(s, i)
	if i >= len(s) || s[i] != ']' {
		return Step{}, 0, false
	}
	n, err := strconv.Atoi(s[start:numEnd])
	if err != nil {
		return Step{}, 0, false
	}
	return IndexStep(n), i + 1, true
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{")
}

// decodeJSON parses with UseNumber so numeric values keep their exact
// textual form through stringify (no float formatting artifacts).
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// walkPath traverses the parsed value: integer steps index arrays only,
// string steps index objects only. Any mismatch truncates resolution;
// there are no partial results.
func walkPath(v any, path []Step) (any, bool) {
	cur := v
	for _, step := range path {
		if step.IsKey {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			next, ok := obj[step.Key]
			if !ok {
				return nil, false
			}
			cur = next
		} else {
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			if step.Index < 0 || step.Index >= len(arr) {
				return nil, false
			}
			cur = arr[step.Index]
		}
	}
	return cur, true
}

// stringify renders a resolved value: null becomes "", structured values
// serialize as JSON, everything else takes its natural string form.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
