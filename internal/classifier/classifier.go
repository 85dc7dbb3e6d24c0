package classifier

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var ErrModelNotLoaded = errors.New("classifier: no model loaded")

var nonLetters = regexp.MustCompile(`[^a-zA-Z ]`)

// BagOfWords labels text with a feed-forward network over a binary
// word-presence vector. It is read-only after construction and safe for
// concurrent use.
type BagOfWords struct {
	labels []string
	index  map[string]int
	layers []Layer
}

func New(m *Model) (*BagOfWords, error) {
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	if len(m.Labels) == 0 {
		m.Labels = DefaultLabels
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(m.Vocabulary))
	for i, w := range m.Vocabulary {
		index[w] = i
	}
	return &BagOfWords{labels: m.Labels, index: index, layers: m.Layers}, nil
}

func Load(path string) (*BagOfWords, error) {
	m, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	return New(m)
}

// Words strips everything but ASCII letters and spaces, lowercases, and splits
// on spaces.
func Words(text string) []string {
	cleaned := strings.ToLower(nonLetters.ReplaceAllString(text, ""))
	parts := strings.Split(cleaned, " ")
	words := parts[:0]
	for _, p := range parts {
		if p != "" {
			words = append(words, p)
		}
	}
	return words
}

func (c *BagOfWords) Vectorize(text string) []float64 {
	vec := make([]float64, len(c.index))
	for _, w := range Words(text) {
		if i, ok := c.index[w]; ok {
			vec[i] = 1
		}
	}
	return vec
}

// Predict returns the output activations for text.
func (c *BagOfWords) Predict(text string) []float64 {
	out := c.Vectorize(text)
	for _, layer := range c.layers {
		out = layer.forward(out)
	}
	return out
}

func (c *BagOfWords) Classify(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	scores := c.Predict(text)
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return c.labels[best], nil
}

func (c *BagOfWords) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Unavailable is used when no model is configured. Every call fails, which the
// aggregator logs without affecting the stream.
type Unavailable struct{}

func (Unavailable) Classify(context.Context, string) (string, error) {
	return "", ErrModelNotLoaded
}
