package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// warmupText is embedded once during initialization to verify that the
// engine is live and that its output length matches the configured dimension.
const warmupText = "warmup"

// LlamaEngine is the primary engine: a llama.cpp server exposing the
// OpenAI-compatible /v1/embeddings endpoint, serving a pre-supplied GGUF
// artifact. It is the throughput-optimized choice and fails fast when the
// artifact is missing.
type LlamaEngine struct {
	baseURL   string
	modelPath string
	client    *http.Client
	cfg       ModelConfig
	ready     bool
}

// NewLlamaEngine creates a primary engine binding for the llama.cpp server
// at baseURL, serving the model artifact at modelPath.
func NewLlamaEngine(baseURL, modelPath string) *LlamaEngine {
	return &LlamaEngine{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelPath: modelPath,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Kind identifies this engine as the primary one.
func (e *LlamaEngine) Kind() EngineKind { return EnginePrimary }

// Available reports whether the model artifact exists on disk. It is a
// cheap stat, side-effect free, probed before committing to initialization.
func (e *LlamaEngine) Available() bool {
	info, err := os.Stat(e.modelPath)
	return err == nil && info.Mode().IsRegular()
}

// llamaEmbedRequest is the request body for /v1/embeddings.
type llamaEmbedRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

// llamaEmbedResponse is the OpenAI-compatible response shape.
type llamaEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// llamaErrorResponse is the error response from the server.
type llamaErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Initialize verifies the artifact, checks server health, and warms the
// model up, validating the output dimension against cfg.Dimension.
func (e *LlamaEngine) Initialize(ctx context.Context, cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// cfg.ModelPath overrides the constructor path; keep the override so
	// Available probes the same artifact this check examines.
	if cfg.ModelPath != "" {
		e.modelPath = cfg.ModelPath
	}
	if info, err := os.Stat(e.modelPath); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("model artifact not found at %s", e.modelPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("llama.cpp server unreachable at %s: %w", e.baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp server not healthy: status %d", resp.StatusCode)
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
func (e *LlamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.ready {
		return nil, notInitializedError(EnginePrimary)
	}

	vec, err := e.embed(ctx, e.cfg.ModelName, text)
	if err != nil {
		return nil, inferenceError(EnginePrimary, len(text), err)
	}
	if len(vec) != e.cfg.Dimension {
		return nil, inferenceError(EnginePrimary, len(text),
			fmt.Errorf("expected %d dimensions, got %d", e.cfg.Dimension, len(vec)))
	}
	return vec, nil
}

// Dispose releases the engine. Idempotent.
func (e *LlamaEngine) Dispose() {
	e.ready = false
	e.client.CloseIdleConnections()
}

func (e *LlamaEngine) embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(llamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp llamaErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("llama.cpp error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("llama.cpp returned status %d", resp.StatusCode)
	}

	var embedResp llamaEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("llama.cpp returned no embeddings")
	}
	return embedResp.Data[0].Embedding, nil
}
