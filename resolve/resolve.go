// Package resolve implements the placeholder-substitution layer described in
// the engine's value-propagation design: textual ${name.field.subfield}
// tokens inside an arbitrary value tree are replaced with values read from a
// results map. The resolver is a pure function of its two inputs: no
// clocks, no I/O, no randomness, so it can be exhaustively table-tested.
package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Results maps a task (or input-node) name to its record, itself normally a
// map[string]any with an "output" key plus whatever other scalar fields the
// caller chose to expose (status, error, start, end, ...). A bare scalar
// value is also accepted as an entry and behaves as if it had no further
// traversable fields.
type Results map[string]any

// placeholderPattern matches a single ${...} token. Segments are non-empty
// runs of letters, digits and underscores, dot-separated.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}`)

// Resolve walks value, replacing every ${path} placeholder it finds with the
// corresponding entry from results. Scalars, []any sequences and
// map[string]any mappings are recursed into; other types pass through
// unchanged. A string that is exactly one placeholder resolves to the
// referenced value's native type; a string containing a placeholder among
// other characters (or more than one placeholder) resolves to a string with
// each placeholder replaced by its canonical textual form. An unresolvable
// path (unknown leading name, or an attempt to traverse past a scalar) is
// left untouched; this is not an error (see ResolverMiss in the design).
func Resolve(value any, results Results) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, results)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, results)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, results)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, results Results) any {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// Exact single-placeholder match: preserve native type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		resolved, ok := lookup(path, results)
		if !ok {
			return s
		}
		return resolved
	}

	// Embedded or multiple placeholders: substitute each as its string form.
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end, pathStart, pathEnd := m[0], m[1], m[2], m[3]
		b.WriteString(s[last:start])
		path := s[pathStart:pathEnd]
		resolved, ok := lookup(path, results)
		if !ok {
			b.WriteString(s[start:end])
		} else {
			b.WriteString(stringify(resolved))
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// reservedRecordFields are the keys a task/input record exposes directly
// (spec.md's "task_name -> {output, status, error, start, end}" shape). Any
// other second segment is assumed to be a field of output itself, so
// "${name.field}" reaches into output without spelling out
// "${name.output.field}".
var reservedRecordFields = map[string]bool{
	"output": true,
	"status": true,
	"error":  true,
	"start":  true,
	"end":    true,
}

// lookup resolves a dotted PATH against results. Per convention, a
// single-segment path "${name}" is equivalent to "${name.output}", and a
// second segment that isn't a reserved record field is treated as a field
// of output rather than a direct key on the record.
func lookup(path string, results Results) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 1 {
		segments = append(segments, "output")
	} else if !reservedRecordFields[segments[1]] {
		rest := append([]string{segments[0], "output"}, segments[1:]...)
		segments = rest
	}

	root, ok := results[segments[0]]
	if !ok {
		return nil, false
	}

	cur := root
	for _, seg := range segments[1:] {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// step advances one segment into cur: a key lookup for mappings, an integer
// index for sequences, and no further traversal for scalars.
func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

// stringify renders v in its canonical textual form for embedding inside a
// larger string.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
