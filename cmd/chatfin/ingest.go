package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/cli"
	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/service"
)

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <receipt>...",
		Short: "Recognize, structure and store receipts",
		Long: `Read receipt images (or text files when tesseract is not installed),
extract line items and totals, categorize them and make them searchable.
A receipt that reconciles and categorizes confidently is also recorded as
an expense. Use "-" to read from standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.ocr == nil {
		return common.NewUserError("no OCR engine available; install tesseract or set ocr.engine to plaintext", a.ocrErr)
	}

	out := cmd.OutOrStdout()
	for _, path := range args {
		data, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}

		recognized, err := recognizeWithRetry(ctx, a.ocr, data, a.cfg.OCR.RetryAttempts)
		if err != nil {
			return fmt.Errorf("failed to recognize %s: %w", path, err)
		}

		result, err := a.svc.IngestText(ctx, a.cfg.User, recognized)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}

		fmt.Fprintln(out, cli.FormatDocument(*result.Document))
		switch {
		case result.Transaction != nil:
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Recorded %s%s under %s",
				a.cfg.Conversation.CurrencySymbol, result.Transaction.Amount.StringFixed(2), result.Transaction.Category)))
		case result.Duplicate:
			fmt.Fprintln(out, cli.FormatInfo("This receipt was already recorded"))
		case !result.Categorization.Empty():
			fmt.Fprintln(out, cli.FormatCategorization(result.Categorization))
		}
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - user-supplied receipt path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// recognizeWithRetry runs OCR with a fresh reader per attempt. Timeouts and
// unavailable engines are retried; other failures return at once.
func recognizeWithRetry(ctx context.Context, provider service.OCRProvider, data []byte, attempts int) (*model.OCRResult, error) {
	var result *model.OCRResult
	err := common.WithRetry(ctx, func() error {
		r, err := provider.Recognize(ctx, bytes.NewReader(data))
		if err != nil {
			return err
		}
		result = r
		return nil
	}, common.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
