package ocr

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

// Tesseract TSV columns.
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	tsvColumns
)

const wordLevel = "5"

// ParseTSV converts tesseract TSV output into an OCR result. Words keep their
// bounding boxes; confidence is scaled to [0,1]. The result confidence is the
// mean word confidence.
func ParseTSV(data []byte) (*model.OCRResult, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		result   model.OCRResult
		lines    []string
		current  []string
		lastLine string
		sum      float64
		header   = true
	)

	for scanner.Scan() {
		raw := scanner.Text()
		if header {
			header = false
			if strings.HasPrefix(raw, "level") {
				continue
			}
		}
		fields := strings.Split(raw, "\t")
		if len(fields) < tsvColumns || fields[colLevel] != wordLevel {
			continue
		}
		text := strings.TrimSpace(fields[colText])
		if text == "" {
			continue
		}

		token, err := parseToken(fields, text)
		if err != nil {
			return nil, err
		}

		key := fields[colPage] + "." + fields[colBlock] + "." + fields[colPar] + "." + fields[colLine]
		if key != lastLine && len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
		lastLine = key
		current = append(current, text)

		result.Tokens = append(result.Tokens, token)
		sum += token.Confidence
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tesseract output: %w", err)
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	if len(result.Tokens) == 0 {
		return nil, common.ErrEmptyDocument
	}

	result.Text = strings.Join(lines, "\n")
	result.Confidence = sum / float64(len(result.Tokens))
	return &result, nil
}

func parseToken(fields []string, text string) (model.OCRToken, error) {
	var box [4]int
	for i, col := range []int{colLeft, colTop, colWidth, colHeight} {
		v, err := strconv.Atoi(fields[col])
		if err != nil {
			return model.OCRToken{}, fmt.Errorf("invalid tesseract box value %q: %w", fields[col], err)
		}
		box[i] = v
	}
	conf, err := strconv.ParseFloat(fields[colConf], 64)
	if err != nil {
		return model.OCRToken{}, fmt.Errorf("invalid tesseract confidence %q: %w", fields[colConf], err)
	}

	return model.OCRToken{
		Text:       text,
		Confidence: clampConfidence(conf / 100),
		Position:   &model.Position{Left: box[0], Top: box[1], Width: box[2], Height: box[3]},
	}, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
