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

// VoyageAIConfig configures the VoyageAI embeddings provider.
type VoyageAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultVoyageAIConfig returns sensible defaults for voyage-code-3.
func DefaultVoyageAIConfig() VoyageAIConfig {
	return VoyageAIConfig{
		BaseURL: "https://api.voyageai.com/v1",
		Model:   "voyage-code-3",
		Timeout: 30 * time.Second,
	}
}

// VoyageAIEmbedder implements Embedder against the VoyageAI embeddings
// endpoint, VoyageAI's code-tuned models being a natural fit for the
// code-chunk embedding workload.
type VoyageAIEmbedder struct {
	client *http.Client
	cfg    VoyageAIConfig
	dims   int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*VoyageAIEmbedder)(nil)

// NewVoyageAIEmbedder constructs a VoyageAIEmbedder. The API key is read
// from cfg.APIKey, falling back to the VOYAGE_API_KEY environment variable.
func NewVoyageAIEmbedder(ctx context.Context, cfg VoyageAIConfig) (*VoyageAIEmbedder, error) {
	defaults := DefaultVoyageAIConfig()
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
		cfg.APIKey = os.Getenv("VOYAGE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, codeindexerrors.ProviderUnavailable("voyageai: no API key configured", nil).
			WithSuggestion("set VOYAGE_API_KEY or providers.embedding.voyageai.api_key")
	}

	return &VoyageAIEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		dims:   dimensionsForVoyageModel(cfg.Model),
	}, nil
}

func dimensionsForVoyageModel(model string) int {
	switch model {
	case "voyage-code-3", "voyage-3-large":
		return 1024
	case "voyage-3-lite":
		return 512
	default:
		return 1024
	}
}

type voyageEmbeddingRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Embed generates an embedding for a single text.
func (e *VoyageAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (e *VoyageAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, codeindexerrors.Internal("voyageai: embedder is closed", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	retryCfg := codeindexerrors.DefaultRetryConfig()
	return codeindexerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

func (e *VoyageAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(voyageEmbeddingRequest{Input: texts, Model: e.cfg.Model, InputType: "document"})
	if err != nil {
		return nil, codeindexerrors.Internal("voyageai: failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, codeindexerrors.Internal("voyageai: failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, codeindexerrors.ProviderUnavailable("voyageai: request failed", err)
	}
	defer resp.Body.Close()

	var parsed voyageEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, codeindexerrors.ProviderUnavailable("voyageai: invalid response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, codeindexerrors.ProviderUnavailable("voyageai: "+parsed.Detail, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, codeindexerrors.Validation("voyageai: "+parsed.Detail, fmt.Errorf("status %d", resp.StatusCode))
	}

	out := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		out[d.Index] = normalizeVector(d.Embedding)
	}
	return out, nil
}

// Dimensions returns the embedding dimension for the configured model.
func (e *VoyageAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *VoyageAIEmbedder) ModelName() string { return e.cfg.Model }

// Available performs a minimal request to check reachability and auth.
func (e *VoyageAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.doEmbed(ctx, []string{"ping"})
	return err == nil
}

// SetBatchIndex is a no-op; thermal batch progression applies only to the
// local Ollama provider.
func (e *VoyageAIEmbedder) SetBatchIndex(idx int) {}

// SetFinalBatch is a no-op; kept to satisfy the Embedder interface.
func (e *VoyageAIEmbedder) SetFinalBatch(isFinal bool) {}

// Close marks the embedder closed. Idempotent.
func (e *VoyageAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
