// Package extract parses model responses into typed values. Parsing never
// panics; every call returns either a value or a ParseFailure that carries
// the raw text.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Strategy names the step that produced a successful parse.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyFenced   Strategy = "fenced"
	StrategyBalanced Strategy = "balanced"
	StrategyArray    Strategy = "array"
	StrategyRepaired Strategy = "repaired"
)

// ParseFailure describes why no strategy produced a value.
type ParseFailure struct {
	Raw    string
	Reason string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("extract: %s (raw: %s)", f.Reason, Snippet(f.Raw, 500))
}

// Result is the outcome of Parse. Exactly one of Failure or Value is
// meaningful: OK reports which.
type Result[T any] struct {
	Value    T
	Strategy Strategy
	Failure  *ParseFailure
}

// OK reports whether parsing succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil.
func (r Result[T]) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// Parse runs every strategy in order and returns the first that decodes
// into T.
func Parse[T any](raw string) Result[T] {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result[T]{Failure: &ParseFailure{Raw: raw, Reason: "empty response"}}
	}

	if v, ok := decode[T](text); ok {
		return Result[T]{Value: v, Strategy: StrategyDirect}
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if v, ok := decode[T](strings.TrimSpace(m[1])); ok {
			return Result[T]{Value: v, Strategy: StrategyFenced}
		}
	}

	if s := largestBalanced(text, '{', '}'); s != "" {
		if v, ok := decode[T](s); ok {
			return Result[T]{Value: v, Strategy: StrategyBalanced}
		}
	}

	if s := largestBalanced(text, '[', ']'); s != "" {
		if v, ok := decode[T](s); ok {
			return Result[T]{Value: v, Strategy: StrategyArray}
		}
	}

	if s := Repair(text); s != "" {
		if v, ok := decode[T](s); ok {
			return Result[T]{Value: v, Strategy: StrategyRepaired}
		}
	}

	return Result[T]{Failure: &ParseFailure{Raw: raw, Reason: "no strategy produced valid JSON"}}
}

// Object parses raw into a generic JSON object.
func Object(raw string) Result[map[string]any] {
	return Parse[map[string]any](raw)
}

// decode unmarshals s into T. When s is an array and T is not a slice, the
// first element is decoded instead.
func decode[T any](s string) (T, bool) {
	var zero T
	if s == "null" || !json.Valid([]byte(s)) {
		return zero, false
	}

	var v T
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if !isNil(v) {
			return v, true
		}
		return zero, false
	}

	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return zero, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil || len(items) == 0 {
		return zero, false
	}
	var first T
	if err := json.Unmarshal(items[0], &first); err != nil || isNil(first) {
		return zero, false
	}
	return first, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// largestBalanced returns the longest substring starting at an open
// delimiter whose delimiters balance, ignoring delimiters inside strings.
func largestBalanced(s string, open, closer byte) string {
	best := ""
	for start := 0; start < len(s); start++ {
		if s[start] != open {
			continue
		}
		end := matchFrom(s, start, open, closer)
		if end < 0 {
			continue
		}
		if cand := s[start : end+1]; len(cand) > len(best) {
			best = cand
		}
		// Anything nested inside is shorter; resume after this match.
		start = end
	}
	return best
}

func matchFrom(s string, start int, open, closer byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// maxRepairCuts bounds how many earlier cut points Repair tries.
const maxRepairCuts = 64

var partialUnicodeRe = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)

type cutPoint struct {
	pos     int
	closers string
}

// Repair closes a JSON document cut off mid-stream. When the tail is a
// partial scalar (`12.`, `tru`) or a key with no value, it rolls back to the
// last clean boundary and drops that member. It returns "" if s contains no
// object or array opener or cannot be repaired.
func Repair(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	body := s[start:]

	var (
		stack    []byte
		cuts     []cutPoint
		inString bool
		escaped  bool
	)
	mark := func(pos int) {
		cuts = append(cuts, cutPoint{pos: pos, closers: closersFor(stack)})
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				mark(i + 1)
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
			mark(i + 1)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return body[:i+1]
			}
			mark(i + 1)
		case ',':
			mark(i)
		}
	}

	// First try keeping everything, closing an open string.
	tail := body
	if inString {
		if escaped {
			tail = tail[:len(tail)-1]
		}
		tail = partialUnicodeRe.ReplaceAllString(tail, "")
		tail += `"`
	}
	if out := trimDangling(tail) + closersFor(stack); json.Valid([]byte(out)) {
		return out
	}

	for i, n := len(cuts)-1, 0; i >= 0 && n < maxRepairCuts; i, n = i-1, n+1 {
		c := cuts[i]
		if out := trimDangling(body[:c.pos]) + c.closers; json.Valid([]byte(out)) {
			return out
		}
	}
	return ""
}

func closersFor(stack []byte) string {
	b := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b = append(b, '}')
		} else {
			b = append(b, ']')
		}
	}
	return string(b)
}

// trimDangling drops a trailing comma, colon, or key without a value.
func trimDangling(s string) string {
	for {
		t := strings.TrimRightFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' })
		switch {
		case strings.HasSuffix(t, ","):
			s = t[:len(t)-1]
		case strings.HasSuffix(t, ":"):
			// Drop `"key":` entirely.
			t = strings.TrimRight(t[:len(t)-1], " \n\t\r")
			if idx := lastStringStart(t); idx >= 0 {
				s = t[:idx]
			} else {
				return t
			}
		default:
			// A bare string directly after '{' or ',' inside an object is a
			// key with no value.
			if strings.HasSuffix(t, `"`) {
				if idx := lastStringStart(t); idx >= 0 {
					prev := strings.TrimRight(t[:idx], " \n\t\r")
					if strings.HasSuffix(prev, "{") || (strings.HasSuffix(prev, ",") && insideObject(prev)) {
						s = prev
						continue
					}
				}
			}
			return t
		}
	}
}

func lastStringStart(s string) int {
	if !strings.HasSuffix(s, `"`) {
		return -1
	}
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			return i
		}
	}
	return -1
}

// insideObject reports whether the innermost open container at the end of s
// is an object.
func insideObject(s string) bool {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return len(stack) > 0 && stack[len(stack)-1] == '{'
}

// Snippet truncates s to at most n bytes for logging.
func Snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
