package ocr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

// PlainText treats its input as already recognized text, such as a pasted
// receipt or a text file. It reports full confidence and no tokens.
type PlainText struct{}

// Name implements service.OCRProvider.
func (PlainText) Name() string {
	return "plaintext"
}

// Recognize implements service.OCRProvider.
func (p PlainText) Recognize(ctx context.Context, r io.Reader) (*model.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return nil, common.ErrEmptyDocument
	}
	return &model.OCRResult{Text: text, Engine: p.Name(), Confidence: 1}, nil
}
