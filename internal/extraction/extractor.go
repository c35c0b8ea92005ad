// Package extraction turns free text, receipt images and voice notes into a
// validated domain.ExtractionResult by prompting a hosted language model.
//
// All three modalities share one pipeline:
//
//	validate input → source (passthrough | fetch + transcribe) → prompt →
//	completion → JSON parse → schema validation
//
// Transient upstream failures are retried under a RetryPolicy and every
// network call honors the caller's context.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/llm"
	"github.com/dvloznov/finance-capture/internal/media"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultTemperature keeps the model close to deterministic.
	DefaultTemperature float32 = 0.1
	// DefaultMaxTokens caps the reply length.
	DefaultMaxTokens = 500
)

// Config describes the provider New connects to.
type Config struct {
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
}

// Extractor is the entry point for all modalities. It is safe for
// concurrent use.
type Extractor struct {
	completer   llm.Completer
	transcriber llm.Transcriber
	fetcher     media.Fetcher

	provider           string
	model              string
	transcriptionModel string
	temperature        float32
	maxTokens          int

	clock   func() time.Time
	logger  zerolog.Logger
	retry   RetryPolicy
	metrics *metrics.Metrics

	text  *TextExtractor
	image *ImageExtractor
	audio *AudioExtractor
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the source of the reference date written into prompts.
func WithClock(clock func() time.Time) Option {
	return func(x *Extractor) { x.clock = clock }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(x *Extractor) { x.retry = p }
}

// WithMetrics records outcomes, latencies and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Extractor) { x.metrics = m }
}

// WithFetcher sets how audio (and, for New, image) references are read.
func WithFetcher(f media.Fetcher) Option {
	return func(x *Extractor) { x.fetcher = f }
}

// WithModel overrides the completion and transcription model names.
func WithModel(model, transcriptionModel string) Option {
	return func(x *Extractor) {
		if model != "" {
			x.model = model
		}
		if transcriptionModel != "" {
			x.transcriptionModel = transcriptionModel
		}
	}
}

// WithSampling overrides the temperature and the reply token cap.
func WithSampling(temperature float32, maxTokens int) Option {
	return func(x *Extractor) {
		x.temperature = temperature
		if maxTokens > 0 {
			x.maxTokens = maxTokens
		}
	}
}

// New connects to the configured provider. It fails with
// ErrMissingCredential when no API key is set.
func New(ctx context.Context, cfg Config, opts ...Option) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}

	// Options are applied twice so WithFetcher reaches the provider too.
	probe := newExtractor(nil, nil, opts...)

	provider, err := llm.New(ctx, llm.Config{
		Provider:           cfg.Provider,
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		Fetcher:            probe.fetcher,
	})
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	x := newExtractor(provider, provider, opts...)
	x.fetcher = probe.fetcher
	return x, nil
}

// NewWithClients wires already-built clients.
func NewWithClients(completer llm.Completer, transcriber llm.Transcriber, opts ...Option) *Extractor {
	return newExtractor(completer, transcriber, opts...)
}

func newExtractor(completer llm.Completer, transcriber llm.Transcriber, opts ...Option) *Extractor {
	x := &Extractor{
		completer:   completer,
		transcriber: transcriber,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		clock:       time.Now,
		logger:      zerolog.Nop(),
		retry:       DefaultRetryPolicy(),
	}
	if p, ok := completer.(llm.Provider); ok {
		x.provider = p.Name()
		x.model = p.Model()
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.fetcher == nil {
		x.fetcher = media.NewStore()
	}

	x.text = &TextExtractor{p: &pipeline{desc: textDescriptor(), x: x}}
	x.image = &ImageExtractor{p: &pipeline{desc: imageDescriptor(), x: x}}
	x.audio = &AudioExtractor{p: &pipeline{desc: audioDescriptor(x), x: x}}
	return x
}

// Provider names the model vendor, when known.
func (x *Extractor) Provider() string { return x.provider }

// Model names the completion model, when known.
func (x *Extractor) Model() string { return x.model }

// Text returns the text extractor.
func (x *Extractor) Text() *TextExtractor { return x.text }

// Image returns the image extractor.
func (x *Extractor) Image() *ImageExtractor { return x.image }

// Audio returns the audio extractor.
func (x *Extractor) Audio() *AudioExtractor { return x.audio }

// ExtractFromText extracts a transaction from free text. A blank language
// means DefaultLanguage.
func (x *Extractor) ExtractFromText(ctx context.Context, text, language string) (domain.ExtractionResult, error) {
	return x.text.Extract(ctx, text, language)
}

// ExtractFromImage extracts a transaction from an image URL.
func (x *Extractor) ExtractFromImage(ctx context.Context, imageURL, language string) (domain.ExtractionResult, error) {
	return x.image.Extract(ctx, imageURL, language)
}

// ExtractFromAudio transcribes the referenced clip and extracts a transaction.
func (x *Extractor) ExtractFromAudio(ctx context.Context, audioURL, language string) (domain.ExtractionResult, error) {
	return x.audio.Extract(ctx, audioURL, language)
}

// Request is a modality-tagged extraction input.
type Request struct {
	Modality domain.Modality
	Input    string
	Language string
}

// Response carries the result along with what was produced on the way.
type Response struct {
	Result      domain.ExtractionResult
	Modality    domain.Modality
	Language    string
	Transcript  string
	RawResponse string
	Provider    string
	Model       string
}

// Extract dispatches on req.Modality. The returned Response is never nil;
// on failure it holds whatever was produced before the error.
func (x *Extractor) Extract(ctx context.Context, req Request) (*Response, error) {
	var p *pipeline
	switch req.Modality {
	case domain.ModalityText:
		p = x.text.p
	case domain.ModalityImage:
		p = x.image.p
	case domain.ModalityAudio:
		p = x.audio.p
	default:
		return &Response{Modality: req.Modality}, fmt.Errorf("%w: unknown modality %q", ErrInvalidInput, req.Modality)
	}

	st, err := p.run(ctx, req.Input, req.Language)
	resp := &Response{
		Modality:    st.Modality,
		Language:    st.Locale.Tag,
		Transcript:  st.Transcript,
		RawResponse: st.RawResponse,
		Provider:    x.provider,
		Model:       x.model,
	}
	if err != nil {
		return resp, err
	}
	resp.Result = st.Result
	return resp, nil
}

// TextExtractor extracts transactions from free text.
type TextExtractor struct{ p *pipeline }

// Extract runs the text pipeline.
func (e *TextExtractor) Extract(ctx context.Context, text, language string) (domain.ExtractionResult, error) {
	st, err := e.p.run(ctx, text, language)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	return st.Result, nil
}

// ImageExtractor extracts transactions from receipt images.
type ImageExtractor struct{ p *pipeline }

// Extract runs the image pipeline.
func (e *ImageExtractor) Extract(ctx context.Context, imageURL, language string) (domain.ExtractionResult, error) {
	st, err := e.p.run(ctx, imageURL, language)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	return st.Result, nil
}

// AudioExtractor transcribes voice notes and extracts transactions.
type AudioExtractor struct{ p *pipeline }

// Extract runs the audio pipeline.
func (e *AudioExtractor) Extract(ctx context.Context, audioURL, language string) (domain.ExtractionResult, error) {
	st, err := e.p.run(ctx, audioURL, language)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	return st.Result, nil
}
