package emotion

import (
	"fmt"
	"math"
)

const probabilityTolerance = 1e-4

// Prediction is a probability per label, ordered like Labels.
type Prediction []float32

// Score pairs a label with its probability.
type Score struct {
	Label       Label   `json:"label"`
	Probability float32 `json:"probability"`
	Percent     string  `json:"percent"`
}

// Validate checks the vector against the label contract.
func (p Prediction) Validate() error {
	if len(p) != LabelCount {
		return fmt.Errorf("%w: got %d values, want %d", ErrInvalidPrediction, len(p), LabelCount)
	}
	for i, v := range p {
		f := float64(v)
		if math.IsNaN(f) || f < -probabilityTolerance || f > 1+probabilityTolerance {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidPrediction, labelOrder[i], v)
		}
	}
	return nil
}

// Top returns the label with the highest probability. Ties resolve to the
// lowest index.
func (p Prediction) Top() (Label, float32, error) {
	if err := p.Validate(); err != nil {
		return "", 0, err
	}
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return labelOrder[best], p[best], nil
}

// Probability returns the value for label.
func (p Prediction) Probability(label Label) (float32, error) {
	i := Index(label)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if i >= len(p) {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidPrediction, label)
	}
	return p[i], nil
}

// Scores lists every label with its probability in label order.
func (p Prediction) Scores() []Score {
	scores := make([]Score, 0, LabelCount)
	for i, l := range labelOrder {
		if i >= len(p) {
			break
		}
		scores = append(scores, Score{Label: l, Probability: p[i], Percent: FormatPercent(p[i])})
	}
	return scores
}

// FormatPercent renders a probability as a percentage with two decimals.
func FormatPercent(v float32) string {
	return fmt.Sprintf("%.2f%%", float64(v)*100)
}
