package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama is a configurable stand-in for a local Ollama server.
type fakeOllama struct {
	t *testing.T

	installed bool // whether /api/show reports the model as present
	pulls     int  // number of /api/pull calls
	embeds    int  // number of /api/embed calls
	dimension int
	embedErr  string // non-empty makes /api/embed fail with this message
}

func (f *fakeOllama) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			json.NewEncoder(w).Encode(map[string]string{"version": "0.5.0"})
		case "/api/show":
			if f.installed {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case "/api/pull":
			f.pulls++
			f.installed = true
			json.NewEncoder(w).Encode(map[string]string{"status": "success"})
		case "/api/embed":
			f.embeds++
			if f.embedErr != "" {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(ollamaErrorResponse{Error: f.embedErr})
				return
			}
			var req ollamaEmbedRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
			vec := make([]float32, f.dimension)
			for i := range vec {
				vec[i] = float32(i) * 0.01
			}
			json.NewEncoder(w).Encode(ollamaEmbedResponse{
				Model:      req.Model,
				Embeddings: [][]float32{vec},
			})
		default:
			f.t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEngineKind(t *testing.T) {
	e := NewOllamaEngine("http://localhost:11434")
	assert.Equal(t, EngineFallback, e.Kind())
}

func TestOllamaEngineAvailable(t *testing.T) {
	f := &fakeOllama{t: t, installed: true, dimension: 4}
	srv := f.server()
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	assert.True(t, e.Available())

	down := NewOllamaEngine("http://127.0.0.1:1")
	assert.False(t, down.Available())
}

func TestOllamaEngineInitializeModelPresent(t *testing.T) {
	f := &fakeOllama{t: t, installed: true, dimension: 4}
	srv := f.server()
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	require.NoError(t, e.Initialize(context.Background(), ModelConfig{ModelName: "nomic-embed-text", Dimension: 4}))

	// No self-provisioning needed; the warm-up embed ran.
	assert.Equal(t, 0, f.pulls)
	assert.Equal(t, 1, f.embeds)
}

func TestOllamaEngineInitializePullsMissingModel(t *testing.T) {
	f := &fakeOllama{t: t, installed: false, dimension: 4}
	srv := f.server()
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	require.NoError(t, e.Initialize(context.Background(), ModelConfig{ModelName: "nomic-embed-text", Dimension: 4}))
	assert.Equal(t, 1, f.pulls)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestOllamaEngineInitializeDimensionMismatch(t *testing.T) {
	f := &fakeOllama{t: t, installed: true, dimension: 3}
	srv := f.server()
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	err := e.Initialize(context.Background(), ModelConfig{ModelName: "nomic-embed-text", Dimension: 768})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config requires 768")
}

func TestOllamaEngineInitializeServerDown(t *testing.T) {
	e := NewOllamaEngine("http://127.0.0.1:1")
	err := e.Initialize(context.Background(), ModelConfig{ModelName: "nomic-embed-text", Dimension: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama request failed")
}

func TestOllamaEngineEmbedBeforeInitialize(t *testing.T) {
	e := NewOllamaEngine("http://localhost:11434")
	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, IsKind(err, KindNotInitialized))
}

func TestOllamaEngineEmbedErrorNeverLeaksText(t *testing.T) {
	f := &fakeOllama{t: t, installed: true, dimension: 4}
	srv := f.server()
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	require.NoError(t, e.Initialize(context.Background(), ModelConfig{ModelName: "nomic-embed-text", Dimension: 4}))

	f.embedErr = "model crashed"
	secret := "confidential note contents"
	_, err := e.Embed(context.Background(), secret)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInference))

	var embErr *Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, len(secret), embErr.Fields["text_len"])
	assert.Equal(t, string(EngineFallback), embErr.Fields["engine"])
	assert.NotContains(t, err.Error(), secret)
}

func TestOllamaEngineDisposeIdempotent(t *testing.T) {
	e := NewOllamaEngine("http://localhost:11434")
	e.Dispose()
	e.Dispose()

	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, IsKind(err, KindNotInitialized))
}

var _ Engine = (*OllamaEngine)(nil)
