package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/llm"
	"github.com/dvloznov/finance-capture/internal/schema"
)

// Step is a single stage of the extraction pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, state *State) error

func (f StepFunc) Execute(ctx context.Context, state *State) error { return f(ctx, state) }

// State is carried across the steps of one extraction.
type State struct {
	Modality domain.Modality
	Input    string
	Locale   Locale
	Now      time.Time

	// Transcript is set by the audio source step.
	Transcript string
	// Parts is the user message sent to the completion API.
	Parts []llm.Part
	// RawResponse is the first candidate's content.
	RawResponse string
	Result      domain.ExtractionResult
}

// descriptor is what distinguishes one modality from another: how the
// input becomes prompt material and how the prompt is laid out.
type descriptor struct {
	modality domain.Modality
	// source turns the raw input into prompt material (passthrough or
	// fetch+transcribe).
	source Step
	// prompt builds the user message from the state.
	prompt func(st *State) []llm.Part
}

// pipeline runs a descriptor through the shared steps.
type pipeline struct {
	desc descriptor
	x    *Extractor
}

func (p *pipeline) steps() []Step {
	return []Step{
		StepFunc(p.validateInput),
		p.desc.source,
		StepFunc(p.buildPrompt),
		StepFunc(p.complete),
		StepFunc(p.parse),
	}
}

// run executes every step and returns the final state. The state is
// returned on failure too so callers can record the raw reply.
func (p *pipeline) run(ctx context.Context, input, language string) (*State, error) {
	st := &State{
		Modality: p.desc.modality,
		Input:    input,
		Locale:   ParseLocale(language),
		Now:      p.x.clock(),
	}

	log := p.x.logger.With().
		Str("modality", string(st.Modality)).
		Str("language", st.Locale.Tag).
		Logger()

	start := time.Now()
	var err error
	for _, step := range p.steps() {
		if err = step.Execute(ctx, st); err != nil {
			break
		}
	}
	err = classify(st.Modality, err)

	outcome := Outcome(err)
	p.x.metrics.ObserveExtraction(string(st.Modality), outcome, time.Since(start))

	if err != nil {
		log.Warn().Err(err).Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("extraction failed")
		return st, err
	}

	log.Debug().
		Str("type", string(st.Result.Type)).
		Float64("confidence", st.Result.Confidence).
		Dur("duration", time.Since(start)).
		Msg("extraction succeeded")
	return st, nil
}

func (p *pipeline) validateInput(_ context.Context, st *State) error {
	if strings.TrimSpace(st.Input) == "" {
		return fmt.Errorf("%w: %s input is empty", ErrInvalidInput, st.Modality)
	}
	return nil
}

func (p *pipeline) buildPrompt(_ context.Context, st *State) error {
	st.Parts = p.desc.prompt(st)
	return nil
}

func (p *pipeline) complete(ctx context.Context, st *State) error {
	req := llm.CompletionRequest{
		Model:       p.x.model,
		Parts:       st.Parts,
		MaxTokens:   p.x.maxTokens,
		Temperature: p.x.temperature,
	}

	var resp *llm.CompletionResponse
	err := p.x.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.x.completer.Complete(ctx, req)
		return err
	}, p.x.onRetry("complete", st.Modality))
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	st.RawResponse = resp.FirstContent()
	if st.RawResponse == "" {
		return ErrNoResponse
	}
	return nil
}

func (p *pipeline) parse(_ context.Context, st *State) error {
	v, err := parseReply(st.RawResponse)
	if err != nil {
		return err
	}

	res, err := schema.Validate(v)
	if err != nil {
		return err
	}
	st.Result = res
	return nil
}

// passthrough uses the input itself as prompt material.
func passthrough(context.Context, *State) error { return nil }

// transcribe fetches the audio clip and converts it to text.
func (x *Extractor) transcribe(ctx context.Context, st *State) error {
	res, err := x.fetcher.Fetch(ctx, strings.TrimSpace(st.Input))
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}

	req := llm.TranscriptionRequest{
		Model:    x.transcriptionModel,
		Audio:    res.Data,
		Filename: res.Name,
		MIMEType: res.MIMEType,
		Language: st.Locale.SpeechLanguage(),
	}

	var transcript string
	err = x.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		transcript, err = x.transcriber.Transcribe(ctx, req)
		return err
	}, x.onRetry("transcribe", st.Modality))
	if err != nil {
		return fmt.Errorf("transcription: %w", err)
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ErrEmptyTranscription
	}
	st.Transcript = transcript
	return nil
}

func (x *Extractor) onRetry(operation string, modality domain.Modality) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		x.metrics.IncRetry(operation)
		x.logger.Warn().
			Err(err).
			Str("operation", operation).
			Str("modality", string(modality)).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("transient upstream failure, retrying")
	}
}

func textDescriptor() descriptor {
	return descriptor{
		modality: domain.ModalityText,
		source:   StepFunc(passthrough),
		prompt: func(st *State) []llm.Part {
			return []llm.Part{llm.TextPart(TextPrompt(strings.TrimSpace(st.Input), st.Locale, st.Now))}
		},
	}
}

func imageDescriptor() descriptor {
	return descriptor{
		modality: domain.ModalityImage,
		source:   StepFunc(passthrough),
		prompt: func(st *State) []llm.Part {
			return []llm.Part{
				llm.TextPart(ImagePrompt(st.Locale, st.Now)),
				llm.ImageURLPart(strings.TrimSpace(st.Input)),
			}
		},
	}
}

func audioDescriptor(x *Extractor) descriptor {
	return descriptor{
		modality: domain.ModalityAudio,
		source:   StepFunc(x.transcribe),
		prompt: func(st *State) []llm.Part {
			return []llm.Part{llm.TextPart(AudioPrompt(st.Transcript, st.Locale, st.Now))}
		},
	}
}
