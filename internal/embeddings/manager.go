package embeddings

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/viterin/vek/vek32"

	"github.com/voskhod/lore/pkg/memocache"
	"github.com/voskhod/lore/pkg/resilience"
)

// ManagerOptions configures a Manager. Primary and Fallback are the engine
// bindings; either may be nil when a strategy never selects it.
type ManagerOptions struct {
	Primary  Engine
	Fallback Engine

	Retry   resilience.RetryPolicy
	Breaker resilience.BreakerConfig

	CacheSize  int
	CacheTTL   time.Duration
	CacheSweep time.Duration

	// Disk is an optional persistent cache tier consulted on memory miss.
	Disk *DiskCache

	// Normalize rescales returned vectors to unit length.
	Normalize bool

	Logger zerolog.Logger
}

// Manager is the single entry point for embedding generation. It selects one
// engine at initialization, owns its lifecycle, and routes every inference
// call through cache, circuit breaker, and retry.
//
// Initialize and Dispose mutate manager identity and must be serialized by
// the caller. Embed is safe for concurrent use once Initialize has returned:
// it only reads the active engine reference.
type Manager struct {
	primary  Engine
	fallback Engine

	active      Engine
	kind        EngineKind
	strategy    Strategy
	cfg         ModelConfig
	initialized bool

	retry     resilience.RetryPolicy
	breaker   *resilience.Breaker
	cache     *memocache.Cache[[]float32]
	disk      *DiskCache
	normalize bool
	logger    zerolog.Logger
}

// NewManager creates a manager. It performs no I/O; call Initialize next.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = resilience.DefaultRetryPolicy()
	}

	return &Manager{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		retry:    opts.Retry,
		breaker:  resilience.NewBreaker(opts.Breaker, opts.Logger),
		cache: memocache.New[[]float32](memocache.Options{
			MaxSize:       opts.CacheSize,
			DefaultTTL:    opts.CacheTTL,
			SweepInterval: opts.CacheSweep,
		}),
		disk:      opts.Disk,
		normalize: opts.Normalize,
		logger:    opts.Logger,
	}
}

// Initialize selects and prepares exactly one engine under strategy. On
// success exactly one engine is active; on total failure none is, and later
// Embed calls fail fast.
func (m *Manager) Initialize(ctx context.Context, cfg ModelConfig, strategy Strategy) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.active = nil
	m.initialized = false
	m.strategy = strategy

	switch strategy {
	case StrategyAuto:
		if m.primary == nil || !m.primary.Available() {
			m.logger.Info().Msg("primary engine unavailable, falling back")
			return m.initializeSingle(ctx, m.fallback, EngineFallback, cfg)
		}
		if err := m.primary.Initialize(ctx, cfg); err != nil {
			m.logger.Warn().Err(err).Msg("primary engine failed to initialize, falling back")
			return m.initializeSingle(ctx, m.fallback, EngineFallback, cfg)
		}
		m.activate(m.primary, cfg)
		return nil

	case StrategyPrimaryOnly:
		return m.initializeSingle(ctx, m.primary, EnginePrimary, cfg)

	case StrategyFallbackOnly:
		return m.initializeSingle(ctx, m.fallback, EngineFallback, cfg)

	default:
		return newError(KindValidation, "unknown strategy").With("strategy", string(strategy))
	}
}

// initializeSingle prepares one named engine, mapping failure to the
// user-visible no-engine-available error.
func (m *Manager) initializeSingle(ctx context.Context, engine Engine, kind EngineKind, cfg ModelConfig) error {
	if engine == nil {
		return newError(KindNoEngine, "no engine configured").
			With("strategy", string(m.strategy)).
			With("engine", string(kind))
	}
	if err := engine.Initialize(ctx, cfg); err != nil {
		return newError(KindNoEngine, "engine initialization failed").
			With("strategy", string(m.strategy)).
			With("engine", string(kind)).
			Wrap(err)
	}
	m.activate(engine, cfg)
	return nil
}

func (m *Manager) activate(engine Engine, cfg ModelConfig) {
	m.active = engine
	m.kind = engine.Kind()
	m.cfg = cfg
	m.initialized = true
	m.breaker.Reset()
	m.logger.Info().
		Str("engine", string(m.kind)).
		Str("model", cfg.ModelName).
		Int("dimension", cfg.Dimension).
		Msg("embedding engine active")
}

// Embed returns the embedding vector for text. Hits are served from the
// in-memory cache, then the disk cache; a miss runs the active engine
// through circuit breaker and retry, and writes through on success. The
// returned slice is the caller's own copy.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	if !m.initialized || m.active == nil {
		return nil, notInitializedError("")
	}
	if strings.TrimSpace(text) == "" {
		return nil, newError(KindValidation, "text is empty")
	}
	text = m.clip(text)

	key := CacheKey(m.cfg.ModelName, text)
	engine, kind := m.active, m.kind

	vec, err := memocache.Do(m.cache, key, func() ([]float32, error) {
		if m.disk != nil {
			// An entry written under a different dimension setting for the
			// same model name is stale, not a hit.
			if cached, ok := m.disk.Get(key); ok && len(cached) == m.cfg.Dimension {
				return cached, nil
			}
		}

		computed, err := resilience.Measure(m.logger, "generate_embedding", func() ([]float32, error) {
			return resilience.Execute(m.breaker, func() ([]float32, error) {
				return resilience.RetryNotify(ctx, m.retry, func() ([]float32, error) {
					return engine.Embed(ctx, text)
				}, func(err error, attempt int) {
					m.logger.Warn().
						Err(err).
						Int("attempt", attempt).
						Str("engine", string(kind)).
						Msg("embedding attempt failed, retrying")
				})
			})
		})
		if err != nil {
			return nil, err
		}

		if m.normalize {
			normalizeVector(computed)
		}
		if m.disk != nil {
			m.disk.Put(key, computed)
		}
		return computed, nil
	})
	if err != nil {
		// An abort during a retry wait surfaces the bare context error; tag
		// it with the engine identity like any other inference failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, inferenceError(kind, len(text), err)
		}
		return nil, err
	}
	return cloneVector(vec), nil
}

// CurrentEngine reports which engine is active. Diagnostic only.
func (m *Manager) CurrentEngine() (EngineKind, bool) {
	if !m.initialized {
		return "", false
	}
	return m.kind, true
}

// Dispose releases the active engine and resets the manager to its
// uninitialized state. Safe to call when never initialized, and idempotent.
func (m *Manager) Dispose() {
	if m.active != nil {
		m.active.Dispose()
		m.logger.Info().Str("engine", string(m.kind)).Msg("embedding engine disposed")
	}
	m.active = nil
	m.kind = ""
	m.initialized = false
	m.breaker.Reset()
}

// Close shuts the manager down entirely: the active engine, the cache
// sweeper, and the disk cache.
func (m *Manager) Close() {
	m.Dispose()
	m.cache.Close()
	if m.disk != nil {
		m.disk.Close()
	}
}

// clip truncates text to the configured maximum input length. Truncation is
// rune-safe so a multi-byte character is never cut in half.
func (m *Manager) clip(text string) string {
	if m.cfg.MaxLength <= 0 || len(text) <= m.cfg.MaxLength {
		return text
	}
	// The limit is in characters, so the byte length alone cannot decide.
	runes := []rune(text)
	if len(runes) <= m.cfg.MaxLength {
		return text
	}
	m.logger.Debug().
		Int("max_length", m.cfg.MaxLength).
		Int("length", len(runes)).
		Msg("input truncated before embedding")
	return string(runes[:m.cfg.MaxLength])
}

// normalizeVector rescales vec to unit length in place.
func normalizeVector(vec []float32) {
	norm := float32(math.Sqrt(float64(vek32.Dot(vec, vec))))
	if norm == 0 {
		return
	}
	vek32.DivNumber_Inplace(vec, norm)
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
