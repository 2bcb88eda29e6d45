// Package ocr provides OCR providers that turn receipt images into text and
// positioned tokens for the document structurer.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

// Runner executes a command with stdin and returns its stdout.
type Runner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

// TesseractConfig configures the tesseract provider.
type TesseractConfig struct {
	Path     string
	Language string
	Timeout  time.Duration
}

// Tesseract recognizes images by running the tesseract CLI in TSV mode.
type Tesseract struct {
	run Runner
	cfg TesseractConfig
}

// NewTesseract creates a provider. It fails with ErrOCRUnavailable when the
// binary cannot be found.
func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if _, err := exec.LookPath(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: tesseract not found at %s", common.ErrOCRUnavailable, cfg.Path)
	}
	return newTesseract(cfg, execRunner), nil
}

func newTesseract(cfg TesseractConfig, run Runner) *Tesseract {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Tesseract{cfg: cfg, run: run}
}

// Name implements service.OCRProvider.
func (t *Tesseract) Name() string {
	return "tesseract"
}

// Recognize implements service.OCRProvider.
func (t *Tesseract) Recognize(ctx context.Context, image io.Reader) (*model.OCRResult, error) {
	if image == nil {
		return nil, fmt.Errorf("image reader cannot be nil")
	}

	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	out, err := t.run(cmdCtx, image, t.cfg.Path, "stdin", "stdout", "-l", t.cfg.Language, "tsv")
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: tesseract timed out: %w", common.ErrOCRUnavailable, err)
		}
		return nil, fmt.Errorf("tesseract failed: %w", err)
	}

	result, err := ParseTSV(out)
	if err != nil {
		return nil, err
	}
	result.Engine = t.Name()

	slog.Debug("Recognized image",
		"engine", result.Engine,
		"tokens", len(result.Tokens),
		"confidence", result.Confidence)

	return result, nil
}

func execRunner(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
