// Package embeddings converts text into fixed-dimension vectors for semantic
// search, running entirely on the local machine. It manages two
// interchangeable inference engines, selects between them under a
// configurable strategy, and shields callers from transient engine failures
// with retry, circuit breaking, and memoization.
package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// EngineKind identifies which inference engine produced a result.
type EngineKind string

const (
	// EnginePrimary is the throughput-optimized engine. It needs a
	// pre-supplied model artifact on disk and fails fast when it is absent.
	EnginePrimary EngineKind = "primary"
	// EngineFallback is the availability-optimized engine. It provisions its
	// own model on first use, at the cost of first-use latency.
	EngineFallback EngineKind = "fallback"
)

// Strategy selects which engines may be used and in what order.
type Strategy string

const (
	// StrategyAuto tries the primary engine and falls back to the fallback
	// engine if it is unavailable or fails to initialize.
	StrategyAuto Strategy = "auto"
	// StrategyPrimaryOnly uses only the primary engine.
	StrategyPrimaryOnly Strategy = "primary"
	// StrategyFallbackOnly uses only the fallback engine.
	StrategyFallbackOnly Strategy = "fallback"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAuto, StrategyPrimaryOnly, StrategyFallbackOnly:
		return Strategy(s), nil
	default:
		return "", newError(KindValidation, fmt.Sprintf("unknown strategy %q", s)).
			With("strategy", s)
	}
}

// ModelConfig describes the embedding model an engine should serve.
type ModelConfig struct {
	ModelName string // Model identifier, e.g. "nomic-embed-text"
	ModelPath string // On-disk artifact; required by the primary engine
	Dimension int    // Fixed output vector length
	MaxLength int    // Maximum input length in characters; 0 means unlimited
}

// Validate checks the config for caller mistakes.
func (c ModelConfig) Validate() error {
	if c.ModelName == "" {
		return newError(KindValidation, "model name is required")
	}
	if c.Dimension < 1 {
		return newError(KindValidation, "dimension must be a positive integer").
			With("dimension", c.Dimension)
	}
	if c.MaxLength < 0 {
		return newError(KindValidation, "max length cannot be negative").
			With("max_length", c.MaxLength)
	}
	return nil
}

// Engine abstracts one interchangeable inference engine. An Engine sees at
// most one successful Initialize, owned by the Manager; Embed is safe for
// concurrent use after Initialize has returned.
type Engine interface {
	// Kind tags results and errors with the engine identity.
	Kind() EngineKind

	// Available reports whether the engine is worth initializing. It must be
	// fast and side-effect free.
	Available() bool

	// Initialize prepares the engine: it verifies the model artifact, warms
	// the model up, and validates the engine's output length against
	// cfg.Dimension. A mismatch is a contract violation and fails here, not
	// at embedding time.
	Initialize(ctx context.Context, cfg ModelConfig) error

	// Embed converts text into a vector of exactly cfg.Dimension floats.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dispose releases engine resources. Idempotent.
	Dispose()
}

// CacheKey derives the memoization key for an input text under a model.
// The key is an opaque content hash; raw text never leaves the process.
func CacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return fmt.Sprintf("%x", h[:16])
}
