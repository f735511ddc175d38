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

	"github.com/pkoukk/tiktoken-go"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// OpenAIConfig configures the OpenAI embeddings provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// MaxTokensPerBatch bounds the total token count of a batch request,
	// measured with tiktoken, so a single call never exceeds the model's
	// context limit regardless of how many texts are passed to EmbedBatch.
	MaxTokensPerBatch int
}

// DefaultOpenAIConfig returns sensible defaults for text-embedding-3-small.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "text-embedding-3-small",
		Timeout:           30 * time.Second,
		MaxTokensPerBatch: 250000,
	}
}

// OpenAIEmbedder implements Embedder against the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *http.Client
	cfg    OpenAIConfig
	dims   int

	mu           sync.RWMutex
	closed       bool
	batchIndex   int
	isFinalBatch bool

	tokenizer *tiktoken.Tiktoken
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder constructs an OpenAIEmbedder. The API key is read from
// cfg.APIKey, falling back to the OPENAI_API_KEY environment variable.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIConfig().Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOpenAIConfig().Timeout
	}
	if cfg.MaxTokensPerBatch == 0 {
		cfg.MaxTokensPerBatch = DefaultOpenAIConfig().MaxTokensPerBatch
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, codeindexerrors.ProviderUnavailable("openai: no API key configured", nil).
			WithSuggestion("set OPENAI_API_KEY or providers.embedding.openai.api_key")
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, codeindexerrors.Internal("openai: failed to load tokenizer", err)
	}

	e := &OpenAIEmbedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		dims:      dimensionsForOpenAIModel(cfg.Model),
		tokenizer: enc,
	}
	return e, nil
}

func dimensionsForOpenAIModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002":
		return 1536
	default: // text-embedding-3-small and unknown models
		return 1536
	}
}

type openAIEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// token-bounded sub-batches when the combined token count would exceed
// MaxTokensPerBatch.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, codeindexerrors.Internal("openai: embedder is closed", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	groups := e.splitByTokenBudget(texts)
	results := make([][]float32, 0, len(texts))
	for _, group := range groups {
		vecs, err := e.doEmbedWithRetry(ctx, group)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// splitByTokenBudget groups texts so that no group exceeds MaxTokensPerBatch
// tokens, measured with the cl100k_base tokenizer OpenAI's models use.
func (e *OpenAIEmbedder) splitByTokenBudget(texts []string) [][]string {
	var groups [][]string
	var current []string
	currentTokens := 0

	for _, t := range texts {
		tokens := len(e.tokenizer.Encode(t, nil, nil))
		if currentTokens+tokens > e.cfg.MaxTokensPerBatch && len(current) > 0 {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, t)
		currentTokens += tokens
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func (e *OpenAIEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retryCfg := codeindexerrors.DefaultRetryConfig()
	return codeindexerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openAIEmbeddingRequest{Input: texts, Model: e.cfg.Model})
	if err != nil {
		return nil, codeindexerrors.Internal("openai: failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, codeindexerrors.Internal("openai: failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, codeindexerrors.ProviderUnavailable("openai: request failed", err)
	}
	defer resp.Body.Close()

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, codeindexerrors.ProviderUnavailable("openai: invalid response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		msg := "openai: transient failure"
		if parsed.Error != nil {
			msg = "openai: " + parsed.Error.Message
		}
		return nil, codeindexerrors.ProviderUnavailable(msg, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		msg := "openai: request rejected"
		if parsed.Error != nil {
			msg = "openai: " + parsed.Error.Message
		}
		return nil, codeindexerrors.Validation(msg, fmt.Errorf("status %d", resp.StatusCode))
	}

	out := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		out[d.Index] = normalizeVector(d.Embedding)
	}
	return out, nil
}

// Dimensions returns the embedding dimension for the configured model.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Available performs a minimal request to check reachability and auth.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.doEmbed(ctx, []string{"ping"})
	return err == nil
}

// SetBatchIndex is a no-op for OpenAI; thermal batch progression applies
// only to the local Ollama provider.
func (e *OpenAIEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	e.batchIndex = idx
	e.mu.Unlock()
}

// SetFinalBatch is a no-op for OpenAI; kept to satisfy the Embedder interface.
func (e *OpenAIEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	e.isFinalBatch = isFinal
	e.mu.Unlock()
}

// Close marks the embedder closed. Idempotent.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
