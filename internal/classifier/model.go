// Package classifier holds the global text categorization model. The model
// is trained offline and only read at runtime.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/Veraticus/chatfin/internal/common"
)

// LinearModel is a multinomial logistic model over bag-of-words terms.
type LinearModel struct {
	Bias    map[string]float64            `json:"bias"`
	Weights map[string]map[string]float64 `json:"weights"`
	Labels  []string                      `json:"labels"`
	Version string                        `json:"version,omitempty"`
}

// LoadModel reads a JSON model artifact.
func LoadModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the model as JSON.
func (m *LinearModel) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write model %s: %w", path, err)
	}
	return nil
}

// Validate checks that every weighted label is declared.
func (m *LinearModel) Validate() error {
	if len(m.Labels) == 0 {
		return fmt.Errorf("model has no labels")
	}
	known := make(map[string]bool, len(m.Labels))
	for _, l := range m.Labels {
		if known[l] {
			return fmt.Errorf("duplicate label %q", l)
		}
		known[l] = true
	}
	for term, weights := range m.Weights {
		for label := range weights {
			if !known[label] {
				return fmt.Errorf("term %q weights unknown label %q", term, label)
			}
		}
	}
	return nil
}

// Predict returns a probability per label. The probabilities sum to 1.
func (m *LinearModel) Predict(text string) map[string]float64 {
	logits := make(map[string]float64, len(m.Labels))
	for _, label := range m.Labels {
		logits[label] = m.Bias[label]
	}
	for _, term := range Features(text) {
		for label, w := range m.Weights[term] {
			logits[label] += w
		}
	}
	return softmax(m.Labels, logits)
}

// Categories returns the model's labels.
func (m *LinearModel) Categories() []string {
	return append([]string(nil), m.Labels...)
}

// Features returns the distinct terms the model looks at: unigrams, their
// naive singular form and adjacent bigrams.
func Features(text string) []string {
	words := common.Tokenize(text)
	seen := make(map[string]bool, len(words)*2)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for i, w := range words {
		add(w)
		add(common.Singular(w))
		if i > 0 {
			add(words[i-1] + " " + w)
		}
	}
	sort.Strings(out)
	return out
}

func softmax(labels []string, logits map[string]float64) map[string]float64 {
	maxLogit := math.Inf(-1)
	for _, l := range labels {
		maxLogit = math.Max(maxLogit, logits[l])
	}
	var sum float64
	probs := make(map[string]float64, len(labels))
	for _, l := range labels {
		p := math.Exp(logits[l] - maxLogit)
		probs[l] = p
		sum += p
	}
	for _, l := range labels {
		probs[l] /= sum
	}
	return probs
}
