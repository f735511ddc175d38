package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// GeminiConfig configures the Gemini embeddings provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults for text-embedding-004.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "text-embedding-004",
		Timeout: 30 * time.Second,
	}
}

// GeminiEmbedder implements Embedder against the Gemini embedContent API.
// Gemini has no native batch endpoint for embeddings, so EmbedBatch issues
// one request per text; the router's concurrency limits apply upstream.
type GeminiEmbedder struct {
	client *http.Client
	cfg    GeminiConfig
	dims   int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder constructs a GeminiEmbedder. The API key is read from
// cfg.APIKey, falling back to the GEMINI_API_KEY environment variable.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	defaults := DefaultGeminiConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, codeindexerrors.ProviderUnavailable("gemini: no API key configured", nil).
			WithSuggestion("set GEMINI_API_KEY or providers.embedding.gemini.api_key")
	}

	return &GeminiEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		dims:   768,
	}, nil
}

type geminiEmbedRequest struct {
	Model   string                `json:"model"`
	Content geminiEmbedContent    `json:"content"`
}

type geminiEmbedContent struct {
	Parts []geminiEmbedPart `json:"parts"`
}

type geminiEmbedPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, codeindexerrors.Internal("gemini: embedder is closed", nil)
	}

	retryCfg := codeindexerrors.DefaultRetryConfig()
	return codeindexerrors.RetryWithResult(ctx, retryCfg, func() ([]float32, error) {
		return e.doEmbed(ctx, text)
	})
}

// EmbedBatch embeds each text with its own request; Gemini's embedContent
// API is single-document only.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *GeminiEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(geminiEmbedRequest{
		Model:   "models/" + e.cfg.Model,
		Content: geminiEmbedContent{Parts: []geminiEmbedPart{{Text: text}}},
	})
	if err != nil {
		return nil, codeindexerrors.Internal("gemini: failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", e.cfg.BaseURL, e.cfg.Model, e.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, codeindexerrors.Internal("gemini: failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, codeindexerrors.ProviderUnavailable("gemini: request failed", err)
	}
	defer resp.Body.Close()

	var parsed geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, codeindexerrors.ProviderUnavailable("gemini: invalid response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		msg := "gemini: transient failure"
		if parsed.Error != nil {
			msg = "gemini: " + parsed.Error.Message
		}
		return nil, codeindexerrors.ProviderUnavailable(msg, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		msg := "gemini: request rejected"
		if parsed.Error != nil {
			msg = "gemini: " + parsed.Error.Message
		}
		return nil, codeindexerrors.Validation(msg, fmt.Errorf("status %d", resp.StatusCode))
	}

	return normalizeVector(parsed.Embedding.Values), nil
}

// Dimensions returns the embedding dimension for the configured model.
func (e *GeminiEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *GeminiEmbedder) ModelName() string { return e.cfg.Model }

// Available performs a minimal request to check reachability and auth.
func (e *GeminiEmbedder) Available(ctx context.Context) bool {
	_, err := e.doEmbed(ctx, "ping")
	return err == nil
}

// SetBatchIndex is a no-op; thermal batch progression applies only to the
// local Ollama provider.
func (e *GeminiEmbedder) SetBatchIndex(idx int) {}

// SetFinalBatch is a no-op; kept to satisfy the Embedder interface.
func (e *GeminiEmbedder) SetFinalBatch(isFinal bool) {}

// Close marks the embedder closed. Idempotent.
func (e *GeminiEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
