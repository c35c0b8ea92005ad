package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/finance-capture/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeFetcher struct {
	FetchFunc func(ctx context.Context, ref string) (*media.Resource, error)
	calls     []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (*media.Resource, error) {
	f.calls = append(f.calls, ref)
	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, ref)
	}
	return &media.Resource{Name: "r.png", MIMEType: "image/png", Data: []byte("png")}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"429", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"408", &StatusError{StatusCode: http.StatusRequestTimeout}, true},
		{"409", &StatusError{StatusCode: http.StatusConflict}, true},
		{"500", &StatusError{StatusCode: http.StatusInternalServerError}, true},
		{"503 wrapped", fmt.Errorf("Complete: %w", &StatusError{StatusCode: http.StatusServiceUnavailable}), true},
		{"400", &StatusError{StatusCode: http.StatusBadRequest}, false},
		{"401", &StatusError{StatusCode: http.StatusUnauthorized}, false},
		{"network timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCompletionResponseFirstContent(t *testing.T) {
	var nilResp *CompletionResponse
	assert.Equal(t, "", nilResp.FirstContent())
	assert.Equal(t, "", (&CompletionResponse{}).FirstContent())
	assert.Equal(t, "{}", (&CompletionResponse{Candidates: []Candidate{{Content: "  {}\n"}, {Content: "x"}}}).FirstContent())
}

type chatRequestBody struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL *struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*OpenAI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAI(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
		Fetcher:    &fakeFetcher{},
	})
	return p, srv
}

func TestOpenAIComplete(t *testing.T) {
	var got chatRequestBody
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"type\":\"expense\"}"}, "finish_reason": "stop"}]
		}`)
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Parts:       []Part{TextPart("extract"), ImageURLPart("https://example.com/r.png")},
		MaxTokens:   500,
		Temperature: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"expense"}`, resp.FirstContent())

	assert.Equal(t, DefaultOpenAIModel, got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "text", got.Messages[0].Content[0].Type)
	assert.Equal(t, "extract", got.Messages[0].Content[0].Text)
	assert.Equal(t, "image_url", got.Messages[0].Content[1].Type)
	assert.Equal(t, "https://example.com/r.png", got.Messages[0].Content[1].ImageURL.URL)
}

func TestOpenAICompleteFetchesStorageImages(t *testing.T) {
	var got chatRequestBody
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "{}"}}]}`)
	})
	fetcher := p.fetcher.(*fakeFetcher)

	_, err := p.Complete(context.Background(), CompletionRequest{
		Parts: []Part{TextPart("extract"), ImageURLPart("gs://receipts/r.png")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"gs://receipts/r.png"}, fetcher.calls)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "data:image/png;base64,cG5n", got.Messages[0].Content[1].ImageURL.URL)
}

func TestOpenAICompleteStatusError(t *testing.T) {
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
	})

	_, err := p.Complete(context.Background(), CompletionRequest{Parts: []Part{TextPart("x")}})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, IsTransient(err))
}

func TestOpenAICompleteBadRequestNotTransient(t *testing.T) {
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad image", "type": "invalid_request_error"}}`)
	})

	_, err := p.Complete(context.Background(), CompletionRequest{Parts: []Part{TextPart("x")}})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestOpenAITranscribe(t *testing.T) {
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "pt", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice.m4a", header.Filename)
		assert.Equal(t, "audio-bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": "gastei cinquenta reais no mercado"}`)
	})

	text, err := p.Transcribe(context.Background(), TranscriptionRequest{
		Audio:    []byte("audio-bytes"),
		Filename: "voice.m4a",
		MIMEType: "audio/mp4",
		Language: "pt",
	})
	require.NoError(t, err)
	assert.Equal(t, "gastei cinquenta reais no mercado", text)
}

func TestOpenAIHonorsContext(t *testing.T) {
	p, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, CompletionRequest{Parts: []Part{TextPart("x")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAudioFilename(t *testing.T) {
	assert.Equal(t, "clip.ogg", audioFilename("clip.ogg", "audio/ogg"))
	assert.Equal(t, "audio.mp3", audioFilename("", ""))
}

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(CompletionRequest{MaxTokens: 500, Temperature: 0.1})
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.1, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(500), cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
}

func TestCandidatesFromGenai(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: `{"type":`},
				{Text: `"income"}`},
			}}},
			{Content: nil},
		},
	}

	out := candidatesFromGenai(resp)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, `{"type":"income"}`, out.FirstContent())
	assert.Equal(t, "", out.Candidates[1].Content)

	assert.Empty(t, candidatesFromGenai(nil).Candidates)
}

func TestGeminiToGenaiParts(t *testing.T) {
	fetcher := &fakeFetcher{}
	g := &Gemini{fetcher: fetcher}

	parts, err := g.toGenaiParts(context.Background(), []Part{
		TextPart("extract"),
		ImageURLPart("https://example.com/r.png"),
		{ImageData: []byte("jpg"), MIMEType: "image/jpeg"},
	})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, "extract", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("png"), parts[1].InlineData.Data)
	require.NotNil(t, parts[2].InlineData)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MIMEType)
	assert.Equal(t, []string{"https://example.com/r.png"}, fetcher.calls)
}

func TestGeminiToGenaiPartsWithoutFetcher(t *testing.T) {
	g := &Gemini{}
	_, err := g.toGenaiParts(context.Background(), []Part{ImageURLPart("gs://b/r.png")})
	assert.Error(t, err)
}

func TestWrapGenaiError(t *testing.T) {
	err := wrapGenaiError(genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"})
	assert.True(t, IsTransient(err))

	err = wrapGenaiError(genai.APIError{Code: http.StatusBadRequest, Message: "bad"})
	assert.False(t, IsTransient(err))

	plain := errors.New("boom")
	assert.Equal(t, plain, wrapGenaiError(plain))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "anthropic-local"})
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestNewDefaultsToOpenAI(t *testing.T) {
	p, err := New(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())
	assert.Equal(t, DefaultOpenAIModel, p.Model())
}
