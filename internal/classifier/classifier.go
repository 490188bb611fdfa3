package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
)

var (
	// ErrModelMissing reports that no model file exists and none could be fetched.
	ErrModelMissing = errors.New("classifier: model file missing")
	// ErrModelMismatch reports a model whose metadata disagrees with the service.
	ErrModelMismatch = errors.New("classifier: model does not match configuration")
	// ErrShapeMismatch reports a tensor the model cannot accept.
	ErrShapeMismatch = errors.New("classifier: tensor shape mismatch")
)

// Classifier maps a normalized tensor to one probability per emotion label.
// Implementations are shared by all sessions and must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, tensor *imageprocessor.Tensor) (emotion.Prediction, error)
	Close() error
}

func checkShape(want []int64, tensor *imageprocessor.Tensor) error {
	if tensor == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if len(want) != len(tensor.Shape) {
		return fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, tensor.Shape, want)
	}
	size := int64(1)
	for i := range want {
		if want[i] != tensor.Shape[i] {
			return fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, tensor.Shape, want)
		}
		size *= want[i]
	}
	if int64(len(tensor.Data)) != size {
		return fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(tensor.Data), want)
	}
	return nil
}
