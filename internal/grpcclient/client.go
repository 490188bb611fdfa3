package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
	"github.com/example/pulseai/internal/logging"
)

// ClassifyMethod is the full gRPC method name served by the remote model.
// Requests and responses are google.protobuf.Struct messages:
//
//	request:  {"shape": [1, 128, 128, 3], "layout": "nhwc", "data": [...]}
//	response: {"probabilities": [p_angry, p_fear, p_happy, p_sad]}
const ClassifyMethod = "/pulseai.v1.EmotionClassifier/Classify"

// RemoteClassifier sends tensors to a model server over gRPC.
type RemoteClassifier struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialClassifier returns a ready-to-use client for the model server at addr.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*RemoteClassifier, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &RemoteClassifier{conn: conn, logger: logger.Named("remote_classifier")}, nil
}

// Classify implements classifier.Classifier.
func (g *RemoteClassifier) Classify(ctx context.Context, tensor *imageprocessor.Tensor) (emotion.Prediction, error) {
	req := encodeTensor(tensor)
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	prediction, err := decodePrediction(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_prediction", "", err)
	}
	return prediction, nil
}

// Close closes the underlying connection.
func (g *RemoteClassifier) Close() error {
	return g.conn.Close()
}

func encodeTensor(tensor *imageprocessor.Tensor) *structpb.Struct {
	shape := make([]*structpb.Value, len(tensor.Shape))
	for i, d := range tensor.Shape {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	data := make([]*structpb.Value, len(tensor.Data))
	for i, v := range tensor.Data {
		data[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape":  structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"layout": structpb.NewStringValue(string(tensor.Layout)),
		"data":   structpb.NewListValue(&structpb.ListValue{Values: data}),
	}}
}

func decodePrediction(resp *structpb.Struct) (emotion.Prediction, error) {
	field, ok := resp.GetFields()["probabilities"]
	if !ok {
		return nil, fmt.Errorf("%w: response has no probabilities", emotion.ErrInvalidPrediction)
	}
	values := field.GetListValue().GetValues()
	prediction := make(emotion.Prediction, len(values))
	for i, v := range values {
		if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
			return nil, fmt.Errorf("%w: probability %d is not a number", emotion.ErrInvalidPrediction, i)
		}
		prediction[i] = float32(v.GetNumberValue())
	}
	if err := prediction.Validate(); err != nil {
		return nil, err
	}
	return prediction, nil
}
