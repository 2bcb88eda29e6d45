package ocr

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t1200\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t40\t20\t300\t30\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t40\t20\t120\t30\t96.5\tDMart\n" +
	"5\t1\t1\t1\t1\t2\t170\t20\t90\t30\t91\tStore\n" +
	"5\t1\t1\t1\t2\t1\t40\t60\t80\t28\t88\tMilk\n" +
	"5\t1\t1\t1\t2\t2\t300\t60\t20\t28\t72.5\t2\n" +
	"5\t1\t1\t1\t2\t3\t400\t60\t50\t28\t90\t60.00\n" +
	"5\t1\t1\t1\t3\t1\t40\t100\t80\t28\t95\t\n"

func TestParseTSV(t *testing.T) {
	result, err := ParseTSV([]byte(sampleTSV))
	require.NoError(t, err)

	assert.Equal(t, "DMart Store\nMilk 2 60.00", result.Text)
	require.Len(t, result.Tokens, 5)
	assert.Equal(t, model.OCRToken{
		Text:       "DMart",
		Confidence: 0.965,
		Position:   &model.Position{Left: 40, Top: 20, Width: 120, Height: 30},
	}, result.Tokens[0])
	assert.InDelta(t, 0.876, result.Confidence, 1e-9)
}

func TestParseTSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "no words", input: "level\tpage_num\n1\t1\t0\t0\t0\t0\t0\t0\t1\t1\t-1\t\n", wantErr: common.ErrEmptyDocument},
		{name: "empty output", input: "", wantErr: common.ErrEmptyDocument},
		{name: "bad confidence", input: "5\t1\t1\t1\t1\t1\t0\t0\t1\t1\tabc\tword\n"},
		{name: "bad box", input: "5\t1\t1\t1\t1\t1\tx\t0\t1\t1\t90\tword\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTSV([]byte(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTesseract_Recognize(t *testing.T) {
	var gotArgs []string
	var gotInput string
	runner := func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		data, err := io.ReadAll(stdin)
		require.NoError(t, err)
		gotInput = string(data)
		gotArgs = append([]string{name}, args...)
		return []byte(sampleTSV), nil
	}

	provider := newTesseract(TesseractConfig{Language: "eng+hin"}, runner)
	result, err := provider.Recognize(context.Background(), strings.NewReader("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "png-bytes", gotInput)
	assert.Equal(t, []string{"tesseract", "stdin", "stdout", "-l", "eng+hin", "tsv"}, gotArgs)
	assert.Equal(t, "tesseract", result.Engine)
	assert.Len(t, result.Tokens, 5)
}

func TestTesseract_RecognizeFailures(t *testing.T) {
	failing := func(context.Context, io.Reader, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	_, err := newTesseract(TesseractConfig{}, failing).Recognize(context.Background(), strings.NewReader("x"))
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))

	slow := func(ctx context.Context, _ io.Reader, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err = newTesseract(TesseractConfig{Timeout: 10 * time.Millisecond}, slow).Recognize(context.Background(), strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOCRUnavailable)
	assert.True(t, common.IsRetryable(err))

	_, err = newTesseract(TesseractConfig{}, failing).Recognize(context.Background(), nil)
	assert.Error(t, err)
}

func TestPlainText_Recognize(t *testing.T) {
	result, err := PlainText{}.Recognize(context.Background(), strings.NewReader("  Reliance Fresh\r\nMilk 2 x 30 60\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Reliance Fresh\nMilk 2 x 30 60", result.Text)
	assert.Equal(t, "plaintext", result.Engine)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Empty(t, result.Tokens)

	_, err = PlainText{}.Recognize(context.Background(), strings.NewReader("  \n"))
	assert.ErrorIs(t, err, common.ErrEmptyDocument)
}
