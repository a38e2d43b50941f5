package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ppiankov/feeddigest/internal/catalogue"
	"github.com/ppiankov/feeddigest/internal/config"
	"github.com/ppiankov/feeddigest/internal/fetch"
	"github.com/ppiankov/feeddigest/internal/logging"
	"github.com/ppiankov/feeddigest/internal/pipeline"
	"github.com/ppiankov/feeddigest/internal/privacy"
	"github.com/ppiankov/feeddigest/internal/store"
	"github.com/ppiankov/feeddigest/internal/summarize"
)

// app holds what every data command needs: config, logger, and store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.SeenStore
	logs   io.Closer
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logs, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: st, logs: logs}, nil
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}

func openStore(ctx context.Context, cfg *config.Config) (store.SeenStore, error) {
	if cfg.Storage.Driver == store.DriverPostgres && cfg.Storage.DSN == "" {
		return nil, fmt.Errorf("postgres storage needs a DSN in $%s", cfg.Storage.DSNEnv)
	}
	return store.Open(ctx, store.Options{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		DSN:      cfg.Storage.DSN,
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
		Prefix:   cfg.Storage.Redis.Prefix,
	})
}

func retention(cfg *config.Config) store.Retention {
	return store.Retention{
		MaxAge:       cfg.Storage.Retention(),
		MaxPerSource: cfg.Storage.MaxLinksPerSource,
	}
}

// generator wires the pipeline from config.
func (a *app) generator() (*pipeline.Generator, error) {
	cfg := a.cfg

	summarizer, err := newSummarizer(cfg)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		Catalogue: catalogue.File(cfg.CataloguePath(configDir)),
		Fetcher: fetch.New(fetch.Options{
			Timeout:     cfg.Fetch.Timeout.Duration,
			Concurrency: cfg.Fetch.Concurrency,
			Retries:     cfg.Fetch.Retries,
			DomainDelay: cfg.Fetch.DomainDelay.Duration,
			RunTimeout:  cfg.Fetch.RunTimeout.Duration,
			MaxBytes:    cfg.Fetch.MaxBytes,
			UserAgent:   cfg.Fetch.UserAgent,
			Logger:      a.logger,
		}),
		Store:                a.store,
		Summarizer:           summarizer,
		MaxChars:             cfg.Summarize.MaxChars,
		SummarizeConcurrency: cfg.Summarize.Concurrency,
		Interval:             cfg.Digest.Window.Duration,
		Retention:            retention(cfg),
		Logger:               a.logger,
	})
}

// newSummarizer returns the abstractive summarizer, or nil for extractive
// mode.
func newSummarizer(cfg *config.Config) (summarize.Summarizer, error) {
	if cfg.Summarize.Mode != "llm" {
		return nil, nil
	}
	if cfg.Summarize.LLM.APIKey == "" {
		return nil, fmt.Errorf("summarize.mode is llm but $%s is empty", cfg.Summarize.LLM.APIKeyEnv)
	}

	redactor, err := newRedactor(cfg.Privacy.Redact)
	if err != nil {
		return nil, err
	}

	llm, err := summarize.NewLLM(summarize.LLMOptions{
		BaseURL:   cfg.Summarize.LLM.BaseURL,
		APIKey:    cfg.Summarize.LLM.APIKey,
		Model:     cfg.Summarize.LLM.Model,
		MaxTokens: cfg.Summarize.LLM.MaxTokens,
		Timeout:   cfg.Summarize.LLM.Timeout.Duration,
		MaxChars:  cfg.Summarize.MaxChars,
		Redactor:  redactor,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm summarizer: %w", err)
	}
	return llm, nil
}

func newRedactor(rc config.RedactConfig) (*privacy.Redactor, error) {
	if !rc.Enabled {
		return nil, nil
	}
	patterns := append(append([]string{}, privacy.DefaultPatterns...), rc.Patterns...)
	r, err := privacy.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("privacy.redact: %w", err)
	}
	return r, nil
}
