package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFailure describes a response that could not be turned into the expected result.
type ParseFailure struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
	Raw       string `json:"raw,omitempty"`
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Operation, f.Reason)
}

// Outcome carries either a value or the reason there is none.
type Outcome[T any] struct {
	Value   *T
	Failure *ParseFailure
	// Err is set when the collaborator itself failed (transport, missing key).
	Err error
}

func (o Outcome[T]) OK() bool {
	return o.Value != nil && o.Failure == nil && o.Err == nil
}

// Validator is implemented by result types that check their own shape.
type Validator interface {
	Validate() error
}

// GenerateJSONResponse asks the collaborator for JSON and decodes it into T. It
// returns nil on any transport or decode failure.
func GenerateJSONResponse[T any](ctx context.Context, c Collaborator, prompt string, files []File) *T {
	outcome := Expect[T](ctx, c, "json", prompt, files)
	return outcome.Value
}

// Expect is GenerateJSONResponse with the failure kept. When *T implements Validator,
// a payload that decodes but fails validation is a ParseFailure too.
func Expect[T any](ctx context.Context, c Collaborator, op, prompt string, files []File) Outcome[T] {
	raw, err := c.GenerateJSON(ctx, prompt, files)
	if err != nil {
		return Outcome[T]{Err: err}
	}
	return Decode[T](op, raw)
}

// Decode turns a raw response into an Outcome. Code fences and prose around the JSON
// document are tolerated.
func Decode[T any](op, raw string) Outcome[T] {
	fail := func(reason string) Outcome[T] {
		return Outcome[T]{Failure: &ParseFailure{Operation: op, Reason: reason, Raw: truncate(raw, 2000)}}
	}

	doc := ExtractJSON(raw)
	if doc == "" {
		return fail("response contains no JSON document")
	}

	var value T
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return fail("invalid JSON: " + err.Error())
	}
	if v, ok := any(&value).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fail(err.Error())
		}
	}
	return Outcome[T]{Value: &value}
}

// ExtractJSON returns the first balanced JSON object or array in s, after removing
// markdown code fences. It returns "" when there is none.
func ExtractJSON(s string) string {
	s = stripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	body := s[start+3:]
	if nl := strings.Index(body, "\n"); nl != -1 {
		// drop the language tag line
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
