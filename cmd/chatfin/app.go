package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/chatfin/internal/assistant"
	"github.com/Veraticus/chatfin/internal/classifier"
	"github.com/Veraticus/chatfin/internal/config"
	"github.com/Veraticus/chatfin/internal/conversation"
	"github.com/Veraticus/chatfin/internal/document"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/ocr"
	"github.com/Veraticus/chatfin/internal/search"
	"github.com/Veraticus/chatfin/internal/service"
	"github.com/Veraticus/chatfin/internal/storage"
	"github.com/Veraticus/chatfin/internal/storage/dynamo"
)

// backend is what both database drivers provide.
type backend interface {
	service.Storage
	service.SessionStore
	service.Analytics
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg     *config.Config
	store   backend
	ocr     service.OCRProvider
	ocrErr  error
	svc     *assistant.Service
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// loadApp reads the global viper configuration and builds the app.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := store.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	sessions, err := openSessions(ctx, cfg.Sessions, store)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if mem, ok := sessions.(*conversation.MemorySessionStore); ok {
		a.closers = append(a.closers, func() error { mem.Stop(); return nil })
	}

	global, err := loadModel(cfg.Model.Path)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// A missing OCR engine only matters to ingest.
	a.ocr, a.ocrErr = openOCR(cfg.OCR)

	categorizer, err := engine.New(global, cfg.EngineConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create categorizer: %w", err)
	}
	parser := intent.NewParser()
	lrn := learner.New(store, cfg.LearnerConfig())

	a.svc, err = assistant.New(assistant.Deps{
		Storage:     store,
		Sessions:    sessions,
		Analytics:   store,
		OCR:         a.ocr,
		Learner:     lrn,
		Parser:      parser,
		Structurer:  document.NewStructurer(cfg.DocumentOptions()),
		Categorizer: categorizer,
		Machine:     conversation.NewMachine(parser, categorizer, lrn, cfg.ConversationConfig()),
		Index:       search.NewIndex(cfg.SearchOptions()),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := storage.NewPostgresStorage(ctx, cfg.DSN, storage.DefaultPostgresOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return store, nil
	}
}

func openSessions(ctx context.Context, cfg config.SessionsConfig, store backend) (service.SessionStore, error) {
	switch cfg.Backend {
	case "memory":
		return conversation.NewMemorySessionStore(cfg.MaxAge), nil
	case "dynamodb":
		sessions, err := dynamo.Open(ctx, cfg.Region, cfg.Endpoint, cfg.Table, cfg.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("failed to open session table: %w", err)
		}
		return sessions, nil
	default:
		return store, nil
	}
}

func loadModel(path string) (*classifier.LinearModel, error) {
	if path == "" {
		return classifier.DefaultModel(), nil
	}
	return classifier.LoadModel(path)
}

// openOCR picks the configured engine. "auto" prefers tesseract and falls
// back to treating input as text when the binary is missing.
func openOCR(cfg config.OCRConfig) (service.OCRProvider, error) {
	if cfg.Engine == "plaintext" {
		return ocr.PlainText{}, nil
	}

	t, err := ocr.NewTesseract(ocr.TesseractConfig{
		Path:     cfg.TesseractPath,
		Language: cfg.Language,
		Timeout:  cfg.Timeout,
	})
	if err == nil {
		return t, nil
	}
	if cfg.Engine == "tesseract" {
		return nil, err
	}
	slog.Debug("Tesseract unavailable, reading input as text", "error", err)
	return ocr.PlainText{}, nil
}
