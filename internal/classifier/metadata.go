package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
)

// Metadata describes an exported model artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// LoadMetadata reads a model metadata JSON file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &m, nil
}

// Check verifies the model was trained on the label order and input size the
// normalizer produces.
func (m *Metadata) Check(n *imageprocessor.Normalizer) error {
	if len(m.Classes) > 0 && !emotion.SameOrder(m.Classes) {
		return fmt.Errorf("%w: classes %v, want %v", ErrModelMismatch, m.Classes, emotion.Labels())
	}
	if m.ImageSize != 0 && m.ImageSize != n.Edge() {
		return fmt.Errorf("%w: model image_size %d, normalizer edge %d", ErrModelMismatch, m.ImageSize, n.Edge())
	}
	if len(m.InputShape) > 0 && !equalShape(m.InputShape, n.Shape()) {
		return fmt.Errorf("%w: model input_shape %v, normalizer shape %v", ErrModelMismatch, m.InputShape, n.Shape())
	}
	if len(m.OutputShape) > 0 && m.OutputShape[len(m.OutputShape)-1] != int64(emotion.LabelCount) {
		return fmt.Errorf("%w: model output_shape %v, want %d classes", ErrModelMismatch, m.OutputShape, emotion.LabelCount)
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
