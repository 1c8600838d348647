// Package ai is the boundary to the external text-generation collaborator. Callers see
// plain text, or typed JSON results whose malformed payloads become ParseFailure values.
package ai

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned when neither a stored key nor a configured key is available.
var ErrNoAPIKey = errors.New("no AI API key configured")

// File is an attachment sent inline with a request.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Collaborator is the opaque generator. Implementations must be safe for concurrent use.
type Collaborator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateJSON asks for a JSON document and returns the raw response text.
	GenerateJSON(ctx context.Context, prompt string, files []File) (string, error)
	Chat(ctx context.Context, prompt string, file *File) (string, error)
}

// KeySource yields the API key to use for the next call.
type KeySource interface {
	Effective(ctx context.Context) (string, bool)
}
