package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLlamaServer mimics a llama.cpp server: /health plus /v1/embeddings.
// The handler receives the decoded request and returns the status and body
// to send.
func fakeLlamaServer(t *testing.T, handler func(req llamaEmbedRequest) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/embeddings":
			var req llamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			status, resp := handler(req)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

// embeddingsResponse builds an OpenAI-shaped response with one vector.
func embeddingsResponse(vec []float32) any {
	return map[string]any{
		"data": []map[string]any{{"embedding": vec}},
	}
}

// writeArtifact creates a dummy model artifact and returns its path.
func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("gguf"), 0o644))
	return path
}

func TestLlamaEngineKind(t *testing.T) {
	e := NewLlamaEngine("http://localhost:8080", "model.gguf")
	assert.Equal(t, EnginePrimary, e.Kind())
}

func TestLlamaEngineAvailable(t *testing.T) {
	e := NewLlamaEngine("http://localhost:8080", writeArtifact(t))
	assert.True(t, e.Available())

	missing := NewLlamaEngine("http://localhost:8080", filepath.Join(t.TempDir(), "absent.gguf"))
	assert.False(t, missing.Available())
}

func TestLlamaEngineInitializeMissingArtifactFailsFast(t *testing.T) {
	srv := fakeLlamaServer(t, func(req llamaEmbedRequest) (int, any) {
		t.Error("embedding endpoint should not be reached")
		return http.StatusOK, nil
	})
	defer srv.Close()

	e := NewLlamaEngine(srv.URL, filepath.Join(t.TempDir(), "absent.gguf"))
	err := e.Initialize(context.Background(), ModelConfig{ModelName: "test-model", Dimension: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model artifact not found")
}

func TestLlamaEngineInitializeAdoptsConfigModelPath(t *testing.T) {
	srv := fakeLlamaServer(t, func(req llamaEmbedRequest) (int, any) {
		return http.StatusOK, embeddingsResponse([]float32{0.1, 0.2})
	})
	defer srv.Close()

	artifact := writeArtifact(t)
	e := NewLlamaEngine(srv.URL, filepath.Join(t.TempDir(), "absent.gguf"))
	assert.False(t, e.Available())

	cfg := ModelConfig{ModelName: "test-model", ModelPath: artifact, Dimension: 2}
	require.NoError(t, e.Initialize(context.Background(), cfg))

	// The availability probe now examines the artifact Initialize verified.
	assert.True(t, e.Available())
}

func TestLlamaEngineInitializeDimensionMismatch(t *testing.T) {
	srv := fakeLlamaServer(t, func(req llamaEmbedRequest) (int, any) {
		return http.StatusOK, embeddingsResponse([]float32{0.1, 0.2, 0.3})
	})
	defer srv.Close()

	e := NewLlamaEngine(srv.URL, writeArtifact(t))
	err := e.Initialize(context.Background(), ModelConfig{ModelName: "test-model", Dimension: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config requires 5")
}

func TestLlamaEngineInitializeRejectsInvalidConfig(t *testing.T) {
	e := NewLlamaEngine("http://localhost:8080", "model.gguf")
	err := e.Initialize(context.Background(), ModelConfig{ModelName: "m", Dimension: 0})
	assert.True(t, IsKind(err, KindValidation))
}

func TestLlamaEngineEmbed(t *testing.T) {
	var warmed bool
	srv := fakeLlamaServer(t, func(req llamaEmbedRequest) (int, any) {
		if req.Input == warmupText {
			warmed = true
		} else {
			assert.Equal(t, "hello", req.Input)
			assert.Equal(t, "test-model", req.Model)
		}
		return http.StatusOK, embeddingsResponse([]float32{0.1, 0.2, 0.3})
	})
	defer srv.Close()

	e := NewLlamaEngine(srv.URL, writeArtifact(t))
	require.NoError(t, e.Initialize(context.Background(), ModelConfig{ModelName: "test-model", Dimension: 3}))
	assert.True(t, warmed)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestLlamaEngineEmbedBeforeInitialize(t *testing.T) {
	e := NewLlamaEngine("http://localhost:8080", "model.gguf")
	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, IsKind(err, KindNotInitialized))
}

func TestLlamaEngineEmbedServerError(t *testing.T) {
	healthy := true
	srv := fakeLlamaServer(t, func(req llamaEmbedRequest) (int, any) {
		if healthy {
			return http.StatusOK, embeddingsResponse([]float32{1, 2})
		}
		return http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"message": "inference failed"},
		}
	})
	defer srv.Close()

	e := NewLlamaEngine(srv.URL, writeArtifact(t))
	require.NoError(t, e.Initialize(context.Background(), ModelConfig{ModelName: "test-model", Dimension: 2}))

	healthy = false
	secret := "some private document text"
	_, err := e.Embed(context.Background(), secret)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInference))

	// The error exposes the input length but never the text itself.
	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, len(secret), embErr.Fields["text_len"])
	assert.Equal(t, string(EnginePrimary), embErr.Fields["engine"])
	assert.NotContains(t, err.Error(), secret)
}

func TestLlamaEngineDisposeIdempotent(t *testing.T) {
	e := NewLlamaEngine("http://localhost:8080", "model.gguf")
	e.Dispose()
	e.Dispose()
}

var _ Engine = (*LlamaEngine)(nil)
