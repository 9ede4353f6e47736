package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/voskhod/lore/internal/config"
	"github.com/voskhod/lore/internal/embeddings"
	"github.com/voskhod/lore/pkg/resilience"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	embedCmd := flag.NewFlagSet("embed", flag.ExitOnError)
	embedJSON := embedCmd.Bool("json", false, "Emit the vector as JSON")
	embedStrategy := embedCmd.String("strategy", "", "Engine strategy: auto, primary, fallback (overrides config)")

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "embed":
			embedCmd.Parse(os.Args[2:])
			return runEmbed(embedCmd.Args(), *embedJSON, *embedStrategy)
		case "engines":
			return runEngines()
		case "config":
			return runConfigInit()
		case "version", "-v", "--version":
			fmt.Printf("lore %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		case "help", "-h", "--help":
			printUsage()
			return nil
		}
	}

	printUsage()
	return nil
}

func printUsage() {
	fmt.Println(`Lore - Local Document Embeddings

Usage:
  lore embed "..."     Embed text and print the vector (reads stdin if no args)
  lore engines         Probe engine availability and report the selection
  lore config          Initialize config file
  lore version         Show version info
  lore help            Show this help

Embed options:
  -json                Emit the vector as JSON
  -strategy string     Engine strategy: auto, primary, fallback (overrides config)

Examples:
  lore embed "Go concurrency patterns"       # Embed a phrase
  cat notes.md | lore embed -json            # Embed stdin, JSON output
  lore embed -strategy fallback "hello"      # Pin the fallback engine
  lore engines                               # Which engine would be used?`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// buildManager wires both engines, the caches, and the resilience layer
// from config. The caller owns the returned manager and must Close it.
func buildManager(cfg *config.Config, logger zerolog.Logger) (*embeddings.Manager, error) {
	primary := embeddings.NewLlamaEngine(cfg.Embeddings.Primary.URL, cfg.Embeddings.Primary.ModelPath)
	fallback := embeddings.NewOllamaEngine(cfg.Embeddings.Fallback.URL)

	var disk *embeddings.DiskCache
	if cfg.Cache.Persistent {
		cachePath, err := cfg.CachePath()
		if err != nil {
			return nil, fmt.Errorf("resolving cache path: %w", err)
		}
		disk, err = embeddings.NewDiskCache(cachePath)
		if err != nil {
			logger.Warn().Err(err).Msg("persistent cache unavailable, continuing without it")
			disk = nil
		}
	}

	return embeddings.NewManager(embeddings.ManagerOptions{
		Primary:  primary,
		Fallback: fallback,
		Retry: resilience.RetryPolicy{
			MaxAttempts:  cfg.Resilience.Retry.MaxAttempts,
			InitialDelay: cfg.RetryInitialDelay(),
			MaxDelay:     cfg.RetryMaxDelay(),
			Multiplier:   cfg.Resilience.Retry.Multiplier,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Resilience.Breaker.SuccessThreshold,
			Cooldown:         cfg.BreakerCooldown(),
		},
		CacheSize:  cfg.Cache.MaxSize,
		CacheTTL:   cfg.CacheTTL(),
		CacheSweep: cfg.CacheSweepInterval(),
		Disk:       disk,
		Normalize:  cfg.Embeddings.Normalize,
		Logger:     logger,
	}), nil
}

func modelConfig(cfg *config.Config) embeddings.ModelConfig {
	return embeddings.ModelConfig{
		ModelName: cfg.Embeddings.Model,
		ModelPath: cfg.Embeddings.Primary.ModelPath,
		Dimension: cfg.Embeddings.Dimension,
		MaxLength: cfg.Embeddings.MaxLength,
	}
}

func runEmbed(args []string, asJSON bool, strategyOverride string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	strategyStr := cfg.Embeddings.Strategy
	if strategyOverride != "" {
		strategyStr = strategyOverride
	}
	strategy, err := embeddings.ParseStrategy(strategyStr)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if text == "" {
		data, err := readStdin()
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = data
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: lore embed \"text\" (or pipe text on stdin)")
	}

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := mgr.Initialize(ctx, modelConfig(cfg), strategy); err != nil {
		return fmt.Errorf("initializing engines: %w", err)
	}

	vec, err := mgr.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(vec)
	}

	kind, _ := mgr.CurrentEngine()
	fmt.Printf("engine: %s, dimension: %d\n", kind, len(vec))
	for i, v := range vec {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Printf("%.6f", v)
	}
	fmt.Println()
	return nil
}

func runEngines() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	primary := embeddings.NewLlamaEngine(cfg.Embeddings.Primary.URL, cfg.Embeddings.Primary.ModelPath)
	fallback := embeddings.NewOllamaEngine(cfg.Embeddings.Fallback.URL)

	primaryUp := primary.Available()
	fallbackUp := fallback.Available()

	fmt.Printf("strategy: %s\n", cfg.Embeddings.Strategy)
	fmt.Printf("primary  (llama.cpp at %s): %s\n", cfg.Embeddings.Primary.URL, availability(primaryUp))
	fmt.Printf("fallback (ollama at %s): %s\n", cfg.Embeddings.Fallback.URL, availability(fallbackUp))

	switch cfg.Embeddings.Strategy {
	case "primary":
		fmt.Println("selection: primary (pinned)")
	case "fallback":
		fmt.Println("selection: fallback (pinned)")
	default:
		if primaryUp {
			fmt.Println("selection: primary")
		} else if fallbackUp {
			fmt.Println("selection: fallback")
		} else {
			fmt.Println("selection: none available")
		}
	}
	return nil
}

func availability(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}

func runConfigInit() error {
	cfg := config.Default()
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	configPath, _ := config.ConfigPath()
	fmt.Printf("Config written to: %s\n", configPath)
	return nil
}

func readStdin() (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
