package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// DefaultLabels are the emotion classes the bundled model is trained on, in
// output order.
var DefaultLabels = []string{
	"admiration", "amusement", "anger", "annoyance", "approval", "caring",
	"confusion", "curiosity", "desire", "disappointment", "disapproval",
	"disgust", "embarrassment", "excitement", "fear", "gratitude", "grief",
	"joy", "love", "nervousness", "optimism", "pride", "realization",
	"relief", "remorse", "sadness", "surprise",
}

type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSoftmax Activation = "softmax"
	ActivationLinear  Activation = "linear"
)

// Layer is a dense layer. Weights is indexed [output][input].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation Activation  `json:"activation"`
}

// Model is the serialized form of a trained bag-of-words network.
type Model struct {
	Labels     []string `json:"labels"`
	Vocabulary []string `json:"vocabulary"`
	Layers     []Layer  `json:"layers"`
}

var ErrInvalidModel = errors.New("classifier: invalid model")

func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(m.Labels) == 0 {
		m.Labels = DefaultLabels
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that layer shapes chain from the vocabulary to the labels.
func (m *Model) Validate() error {
	if len(m.Vocabulary) == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrInvalidModel)
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidModel)
	}

	width := len(m.Vocabulary)
	for i, layer := range m.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights) != len(layer.Bias) {
			return fmt.Errorf("%w: layer %d has %d weight rows and %d biases", ErrInvalidModel, i, len(layer.Weights), len(layer.Bias))
		}
		for j, row := range layer.Weights {
			if len(row) != width {
				return fmt.Errorf("%w: layer %d row %d has width %d, want %d", ErrInvalidModel, i, j, len(row), width)
			}
		}
		switch layer.Activation {
		case ActivationReLU, ActivationSoftmax, ActivationLinear, "":
		default:
			return fmt.Errorf("%w: layer %d has unknown activation %q", ErrInvalidModel, i, layer.Activation)
		}
		width = len(layer.Weights)
	}

	if width != len(m.Labels) {
		return fmt.Errorf("%w: output width %d does not match %d labels", ErrInvalidModel, width, len(m.Labels))
	}
	return nil
}

func (l Layer) forward(in []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for j, row := range l.Weights {
		sum := l.Bias[j]
		for i, w := range row {
			if in[i] != 0 {
				sum += w * in[i]
			}
		}
		out[j] = sum
	}

	switch l.Activation {
	case ActivationReLU:
		for j, v := range out {
			if v < 0 {
				out[j] = 0
			}
		}
	case ActivationSoftmax:
		softmax(out)
	}
	return out
}

func softmax(v []float64) {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - max)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
