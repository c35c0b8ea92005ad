// Package llm is the boundary to hosted language and speech models. It
// defines a provider-neutral request shape and adapts it to OpenAI and Gemini.
package llm

import (
	"context"
	"strings"
)

// Part is one element of a user message: text, an image URL or inline image bytes.
type Part struct {
	Text      string
	ImageURL  string
	ImageData []byte
	MIMEType  string
}

// TextPart returns a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImageURLPart returns an image part that references a URL.
func ImageURLPart(url string) Part { return Part{ImageURL: url} }

// IsImage reports whether the part carries an image.
func (p Part) IsImage() bool { return p.ImageURL != "" || len(p.ImageData) > 0 }

// CompletionRequest is a single-turn chat completion with one user message.
type CompletionRequest struct {
	Model       string
	Parts       []Part
	MaxTokens   int
	Temperature float32
}

// Candidate is one generated reply.
type Candidate struct {
	Content string
}

// CompletionResponse holds the generated candidates in provider order.
type CompletionResponse struct {
	Candidates []Candidate
}

// FirstContent returns the trimmed content of the first candidate, or "".
func (r *CompletionResponse) FirstContent() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Candidates[0].Content)
}

// TranscriptionRequest carries an audio clip to transcribe.
type TranscriptionRequest struct {
	Model    string
	Audio    []byte
	Filename string
	MIMEType string
	// Language is a two-letter ISO-639-1 hint such as "en" or "pt".
	Language string
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Provider is a hosted model vendor that can both complete and transcribe.
type Provider interface {
	Completer
	Transcriber
	Name() string
	Model() string
}
