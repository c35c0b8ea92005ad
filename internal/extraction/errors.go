package extraction

import (
	"errors"
	"fmt"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/schema"
)

var (
	// ErrInvalidInput means the primary input (text, image or audio
	// reference) was empty. It is returned before any network call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingCredential is returned by New when no API key is configured.
	ErrMissingCredential = errors.New("missing API credential")
	// ErrEmptyTranscription means speech-to-text produced no usable text.
	ErrEmptyTranscription = errors.New("transcription is empty")
	// ErrNoResponse means the completion API returned no content.
	ErrNoResponse = errors.New("no response from model")
)

// SchemaValidationError lists the fields of a model reply that failed validation.
type SchemaValidationError = schema.ValidationError

// MalformedResponseError means the model reply was not a JSON value.
type MalformedResponseError struct {
	Content string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ExtractionFailedError wraps every failure that is not an input, parse or
// schema problem: network errors, rate limiting, timeouts, empty
// transcriptions and empty replies.
type ExtractionFailedError struct {
	Modality domain.Modality
	Err      error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("Failed to extract data from %s: %v", e.Modality, e.Err)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Err }

// classify decides which errors reach the caller as-is and which are wrapped.
func classify(modality domain.Modality, err error) error {
	if err == nil {
		return nil
	}

	var malformed *MalformedResponseError
	var invalid *schema.ValidationError
	var failed *ExtractionFailedError
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.As(err, &malformed),
		errors.As(err, &invalid),
		errors.As(err, &failed):
		return err
	}

	return &ExtractionFailedError{Modality: modality, Err: err}
}

// Outcome labels an extraction result for metrics and run records.
func Outcome(err error) string {
	var malformed *MalformedResponseError
	var invalid *schema.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &malformed):
		return "malformed_response"
	case errors.As(err, &invalid):
		return "schema_validation"
	case errors.Is(err, ErrEmptyTranscription):
		return "empty_transcription"
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	default:
		return "failed"
	}
}
