package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-capture/internal/media"
	"google.golang.org/genai"
)

const (
	// ProviderGemini selects the Gemini provider.
	ProviderGemini = "gemini"
	// DefaultGeminiModel handles text, images and audio in one model.
	DefaultGeminiModel = "gemini-2.5-flash"
)

const transcriptionInstruction = "Transcribe this audio recording verbatim. " +
	"Return only the transcript text, without timestamps, speaker labels or commentary. " +
	"If there is no intelligible speech, return an empty response."

// Gemini implements Provider on the Gemini API. Transcription is a regular
// generation over the inline audio blob.
type Gemini struct {
	client             *genai.Client
	model              string
	transcriptionModel string
	fetcher            media.Fetcher
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = model
	}

	return &Gemini{
		client:             client,
		model:              model,
		transcriptionModel: transcriptionModel,
		fetcher:            cfg.Fetcher,
	}, nil
}

func (g *Gemini) Name() string  { return ProviderGemini }
func (g *Gemini) Model() string { return g.model }

// Complete asks for a JSON response built from the request parts.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	parts, err := g.toGenaiParts(ctx, req.Parts)
	if err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		generationConfig(req))
	if err != nil {
		return nil, fmt.Errorf("Complete: generate content: %w", wrapGenaiError(err))
	}

	return candidatesFromGenai(resp), nil
}

// Transcribe returns the spoken text of the audio clip.
func (g *Gemini) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	instruction := transcriptionInstruction
	if req.Language != "" {
		instruction += fmt.Sprintf(" The speaker's language is %q.", req.Language)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	model := req.Model
	if model == "" {
		model = g.transcriptionModel
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: instruction},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: req.Audio}},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Transcribe: generate content: %w", wrapGenaiError(err))
	}

	return strings.TrimSpace(resp.Text()), nil
}

func (g *Gemini) toGenaiParts(ctx context.Context, in []Part) ([]*genai.Part, error) {
	out := make([]*genai.Part, 0, len(in))
	for _, part := range in {
		switch {
		case !part.IsImage():
			out = append(out, &genai.Part{Text: part.Text})
		case len(part.ImageData) > 0:
			out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: part.MIMEType, Data: part.ImageData}})
		default:
			res, err := fetchImage(ctx, g.fetcher, part.ImageURL)
			if err != nil {
				return nil, err
			}
			out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: res.MIMEType, Data: res.Data}})
		}
	}
	return out, nil
}

func generationConfig(req CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// candidatesFromGenai joins the text parts of every candidate.
func candidatesFromGenai(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{}
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			out.Candidates = append(out.Candidates, Candidate{})
			continue
		}
		var sb strings.Builder
		for _, p := range c.Content.Parts {
			if p != nil && !p.Thought {
				sb.WriteString(p.Text)
			}
		}
		out.Candidates = append(out.Candidates, Candidate{Content: sb.String()})
	}
	return out
}

func wrapGenaiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &StatusError{Provider: ProviderGemini, StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
		return &StatusError{Provider: ProviderGemini, StatusCode: apiErrPtr.Code, Err: err}
	}
	return err
}

var _ Provider = (*Gemini)(nil)
