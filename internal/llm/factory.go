package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-capture/internal/media"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" (default) or "gemini".
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
	HTTPClient         *http.Client
	// Fetcher resolves image references the provider cannot read itself.
	Fetcher media.Fetcher
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("New: %w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
