package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
)

// ONNXOptions configures a local ONNX Runtime classifier.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputShape  []int64
}

// ONNX runs the emotion model in-process with ONNX Runtime. The session and
// its bound tensors are created once; Classify serializes access to them.
type ONNX struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int64
	logger       *zap.Logger
}

var envOnce sync.Once
var envErr error

// NewONNX loads the model at opts.ModelPath.
func NewONNX(opts ONNXOptions, logger *zap.Logger) (*ONNX, error) {
	logger = logger.Named("onnx_classifier")
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	envOnce.Do(func() { envErr = ort.InitializeEnvironment() })
	if envErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", envErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(emotion.LabelCount)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.Info("model loaded",
		zap.String("path", opts.ModelPath),
		zap.Int64s("input_shape", opts.InputShape),
		zap.Int("classes", emotion.LabelCount))

	return &ONNX{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   append([]int64(nil), opts.InputShape...),
		logger:       logger,
	}, nil
}

// Classify runs one inference.
func (o *ONNX) Classify(ctx context.Context, tensor *imageprocessor.Tensor) (emotion.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkShape(o.inputShape, tensor); err != nil {
		return nil, err
	}

	o.mu.Lock()
	copy(o.inputTensor.GetData(), tensor.Data)
	err := o.session.Run()
	var prediction emotion.Prediction
	if err == nil {
		prediction = append(emotion.Prediction(nil), o.outputTensor.GetData()...)
	}
	o.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if err := prediction.Validate(); err != nil {
		return nil, err
	}
	return prediction, nil
}

// Close releases the session and tensors. The ONNX environment stays
// initialized for the life of the process.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	if o.session != nil {
		if err := o.session.Destroy(); err != nil {
			return err
		}
		o.session = nil
	}
	return nil
}
