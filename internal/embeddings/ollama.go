package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaEngine is the fallback engine: a local Ollama server. It is the
// availability-optimized choice; when the configured model is not present,
// Initialize pulls it through the server, so first use tolerates download
// latency instead of failing.
type OllamaEngine struct {
	baseURL string
	client  *http.Client
	// pullClient has no timeout of its own: a first-use model download can
	// take minutes and is bounded by the caller's context instead.
	pullClient *http.Client
	cfg        ModelConfig
	ready      bool
}

// NewOllamaEngine creates a fallback engine binding for the Ollama server
// at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		pullClient: &http.Client{},
	}
}

// Kind identifies this engine as the fallback one.
func (e *OllamaEngine) Kind() EngineKind { return EngineFallback }

// Available reports whether the Ollama server answers. The probe is a quick
// version request with a short deadline, side-effect free.
func (e *OllamaEngine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ollamaEmbedRequest is the request body for /api/embed.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse is the response from /api/embed.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// ollamaErrorResponse is the error response from Ollama.
type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Initialize ensures the model is present (pulling it on first use), then
// warms it up and validates the output dimension against cfg.Dimension.
func (e *OllamaEngine) Initialize(ctx context.Context, cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	present, err := e.modelPresent(ctx, cfg.ModelName)
	if err != nil {
		return fmt.Errorf("checking model %s: %w", cfg.ModelName, err)
	}
	if !present {
		if err := e.pullModel(ctx, cfg.ModelName); err != nil {
			return fmt.Errorf("pulling model %s: %w", cfg.ModelName, err)
		}
	}

	vec, err := e.embed(ctx, cfg.ModelName, warmupText)
	if err != nil {
		return fmt.Errorf("warm-up embedding: %w", err)
	}
	if len(vec) != cfg.Dimension {
		return fmt.Errorf("engine produced %d-dimensional vectors, config requires %d", len(vec), cfg.Dimension)
	}

	e.cfg = cfg
	e.ready = true
	return nil
}

// Embed generates an embedding for text.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.ready {
		return nil, notInitializedError(EngineFallback)
	}

	vec, err := e.embed(ctx, e.cfg.ModelName, text)
	if err != nil {
		return nil, inferenceError(EngineFallback, len(text), err)
	}
	if len(vec) != e.cfg.Dimension {
		return nil, inferenceError(EngineFallback, len(text),
			fmt.Errorf("expected %d dimensions, got %d", e.cfg.Dimension, len(vec)))
	}
	return vec, nil
}

// Dispose releases the engine. Idempotent.
func (e *OllamaEngine) Dispose() {
	e.ready = false
	e.client.CloseIdleConnections()
	e.pullClient.CloseIdleConnections()
}

// modelPresent checks whether the model is already installed on the server.
func (e *OllamaEngine) modelPresent(ctx context.Context, model string) (bool, error) {
	body, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("ollama request failed (is Ollama running at %s?): %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
}

// pullModel downloads the model through the server. Self-provisioning on
// first use is what makes this engine the availability-optimized fallback.
func (e *OllamaEngine) pullModel(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]any{"model": model, "stream": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama pull failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("ollama error: %s", errResp.Error)
		}
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *OllamaEngine) embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed (is Ollama running at %s?): %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(embedResp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return embedResp.Embeddings[0], nil
}
