package extraction

import (
	"context"
	"strings"

	"github.com/dvloznov/finance-capture/internal/llm"
	"github.com/dvloznov/finance-capture/internal/media"
)

type fakeCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	requests     []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, req)
	}
	return reply(validReply), nil
}

func (f *fakeCompleter) calls() int { return len(f.requests) }

// prompt returns the text of the last request.
func (f *fakeCompleter) prompt() string {
	if len(f.requests) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range f.requests[len(f.requests)-1].Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

type fakeTranscriber struct {
	TranscribeFunc func(ctx context.Context, req llm.TranscriptionRequest) (string, error)
	requests       []llm.TranscriptionRequest
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req llm.TranscriptionRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.TranscribeFunc != nil {
		return f.TranscribeFunc(ctx, req)
	}
	return "I paid 42 dollars for dinner at Joe's yesterday", nil
}

type fakeFetcher struct {
	FetchFunc func(ctx context.Context, ref string) (*media.Resource, error)
	refs      []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (*media.Resource, error) {
	f.refs = append(f.refs, ref)
	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, ref)
	}
	return &media.Resource{Name: "note.m4a", MIMEType: "audio/mp4", Data: []byte("audio")}, nil
}

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Candidates: []llm.Candidate{{Content: content}}}
}

const validReply = `{
	"type": "expense",
	"amount": 150.00,
	"currency": "USD",
	"date": "2024-03-15T00:00:00Z",
	"merchant": "Amazon",
	"category": "books",
	"confidence": 0.88,
	"language": "en"
}`
