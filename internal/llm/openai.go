package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/dvloznov/finance-capture/internal/media"
	"github.com/sashabaranov/go-openai"
)

const (
	// ProviderOpenAI selects the OpenAI provider.
	ProviderOpenAI = "openai"
	// DefaultOpenAIModel is the vision-capable chat model used by default.
	DefaultOpenAIModel = "gpt-4o"
)

// OpenAI implements Provider with chat completions and Whisper.
type OpenAI struct {
	client             *openai.Client
	model              string
	transcriptionModel string
	fetcher            media.Fetcher
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}

	return &OpenAI{
		client:             openai.NewClientWithConfig(clientCfg),
		model:              model,
		transcriptionModel: transcriptionModel,
		fetcher:            cfg.Fetcher,
	}
}

func (p *OpenAI) Name() string  { return ProviderOpenAI }
func (p *OpenAI) Model() string { return p.model }

// Complete sends one user message made of the request parts.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	parts := make([]openai.ChatMessagePart, 0, len(req.Parts))
	for _, part := range req.Parts {
		if !part.IsImage() {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
			continue
		}

		url, err := p.imageURL(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("Complete: %w", err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("Complete: create chat completion: %w", p.wrapError(err))
	}

	out := &CompletionResponse{Candidates: make([]Candidate, 0, len(resp.Choices))}
	for _, choice := range resp.Choices {
		out.Candidates = append(out.Candidates, Candidate{Content: choice.Message.Content})
	}
	return out, nil
}

// imageURL returns a URL the API can read: remote and data URLs pass
// through, inline bytes and other references become base64 data URLs.
func (p *OpenAI) imageURL(ctx context.Context, part Part) (string, error) {
	if len(part.ImageData) > 0 {
		res := &media.Resource{MIMEType: part.MIMEType, Data: part.ImageData}
		return res.DataURL(), nil
	}
	if media.IsRemoteURL(part.ImageURL) || isDataURL(part.ImageURL) {
		return part.ImageURL, nil
	}

	res, err := fetchImage(ctx, p.fetcher, part.ImageURL)
	if err != nil {
		return "", err
	}
	return res.DataURL(), nil
}

// Transcribe sends the clip to the Whisper endpoint.
func (p *OpenAI) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.transcriptionModel
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		Reader:   bytes.NewReader(req.Audio),
		FilePath: audioFilename(req.Filename, req.MIMEType),
		Language: req.Language,
	})
	if err != nil {
		return "", fmt.Errorf("Transcribe: create transcription: %w", p.wrapError(err))
	}
	return resp.Text, nil
}

func (p *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: ProviderOpenAI, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: ProviderOpenAI, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}

// audioFilename makes sure Whisper sees an extension it can use to detect
// the container format.
func audioFilename(name, mimeType string) string {
	if name != "" {
		return name
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return "audio" + exts[0]
	}
	return "audio.mp3"
}

func isDataURL(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

func fetchImage(ctx context.Context, fetcher media.Fetcher, ref string) (*media.Resource, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetch image %q: no media fetcher configured", ref)
	}
	res, err := fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return res, nil
}

var _ Provider = (*OpenAI)(nil)
