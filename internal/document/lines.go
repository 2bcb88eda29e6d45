package document

import (
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/chatfin/internal/model"
)

// line is one visual row of the document.
type line struct {
	text       string
	confidence float64
	hasConf    bool
}

// buildLines groups tokens into rows by vertical position when positions are
// known, otherwise splits the raw text on newlines.
func buildLines(raw string, tokens []model.OCRToken) []line {
	if hasPositions(tokens) {
		return linesFromPositions(tokens)
	}

	if strings.TrimSpace(raw) == "" && len(tokens) > 0 {
		texts := make([]string, 0, len(tokens))
		for _, t := range tokens {
			texts = append(texts, t.Text)
		}
		raw = strings.Join(texts, " ")
	}

	var lines []line
	next := 0
	for _, rawLine := range strings.Split(raw, "\n") {
		text := strings.Join(strings.Fields(rawLine), " ")
		if text == "" {
			continue
		}
		l := line{text: text, confidence: 1}
		// Tokens arrive in reading order; consume those that spell this line.
		for _, word := range strings.Fields(text) {
			if next < len(tokens) && tokens[next].Text == word {
				l.confidence = minConf(l, tokens[next].Confidence)
				l.hasConf = true
				next++
			}
		}
		lines = append(lines, l)
	}
	return lines
}

func hasPositions(tokens []model.OCRToken) bool {
	for _, t := range tokens {
		if t.Position != nil {
			return true
		}
	}
	return false
}

func linesFromPositions(tokens []model.OCRToken) []line {
	positioned := make([]model.OCRToken, 0, len(tokens))
	heights := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if t.Position == nil || strings.TrimSpace(t.Text) == "" {
			continue
		}
		positioned = append(positioned, t)
		heights = append(heights, t.Position.Height)
	}
	if len(positioned) == 0 {
		return nil
	}

	sort.Ints(heights)
	threshold := math.Max(float64(heights[len(heights)/2])/2, 1)

	sort.SliceStable(positioned, func(i, j int) bool {
		ci, cj := centerY(positioned[i]), centerY(positioned[j])
		if ci != cj {
			return ci < cj
		}
		return positioned[i].Position.Left < positioned[j].Position.Left
	})

	var rows [][]model.OCRToken
	var rowCenter float64
	for _, t := range positioned {
		c := centerY(t)
		if len(rows) == 0 || math.Abs(c-rowCenter) > threshold {
			rows = append(rows, []model.OCRToken{t})
			rowCenter = c
			continue
		}
		last := len(rows) - 1
		rows[last] = append(rows[last], t)
		rowCenter = (rowCenter*float64(len(rows[last])-1) + c) / float64(len(rows[last]))
	}

	lines := make([]line, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Position.Left < row[j].Position.Left
		})
		l := line{confidence: 1, hasConf: true}
		words := make([]string, 0, len(row))
		for _, t := range row {
			words = append(words, t.Text)
			l.confidence = minConf(l, t.Confidence)
		}
		l.text = strings.Join(strings.Fields(strings.Join(words, " ")), " ")
		lines = append(lines, l)
	}
	return lines
}

func centerY(t model.OCRToken) float64 {
	return float64(t.Position.Top) + float64(t.Position.Height)/2
}

func minConf(l line, c float64) float64 {
	if !l.hasConf || c < l.confidence {
		return c
	}
	return l.confidence
}
