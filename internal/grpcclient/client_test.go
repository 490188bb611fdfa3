package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
)

type fakeModel struct {
	probabilities []interface{}
	lastShape     []float64
	lastLayout    string
	lastDataLen   int
}

func (f *fakeModel) classify(req *structpb.Struct) (*structpb.Struct, error) {
	for _, v := range req.GetFields()["shape"].GetListValue().GetValues() {
		f.lastShape = append(f.lastShape, v.GetNumberValue())
	}
	f.lastLayout = req.GetFields()["layout"].GetStringValue()
	f.lastDataLen = len(req.GetFields()["data"].GetListValue().GetValues())
	return structpb.NewStruct(map[string]interface{}{"probabilities": f.probabilities})
}

func startServer(t *testing.T, model *fakeModel) *RemoteClassifier {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "pulseai.v1.EmotionClassifier",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Classify",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return model.classify(in)
			},
		}},
	}, model)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := DialClassifier(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testTensor() *imageprocessor.Tensor {
	return &imageprocessor.Tensor{
		Shape:  []int64{1, 4, 4, 3},
		Data:   make([]float32, 48),
		Layout: imageprocessor.LayoutNHWC,
	}
}

func TestClassifyRoundTrip(t *testing.T) {
	model := &fakeModel{probabilities: []interface{}{0.7, 0.1, 0.1, 0.1}}
	client := startServer(t, model)

	prediction, err := client.Classify(context.Background(), testTensor())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(prediction) != emotion.LabelCount {
		t.Fatalf("expected %d probabilities, got %d", emotion.LabelCount, len(prediction))
	}
	top, _, err := prediction.Top()
	if err != nil || top != emotion.Angry {
		t.Fatalf("expected Angry, got %s (%v)", top, err)
	}
	if model.lastDataLen != 48 {
		t.Fatalf("expected 48 tensor values on the wire, got %d", model.lastDataLen)
	}
	if model.lastLayout != "nhwc" {
		t.Fatalf("unexpected layout: %s", model.lastLayout)
	}
	if len(model.lastShape) != 4 || model.lastShape[1] != 4 {
		t.Fatalf("unexpected shape: %v", model.lastShape)
	}
}

func TestClassifyRejectsWrongLength(t *testing.T) {
	client := startServer(t, &fakeModel{probabilities: []interface{}{0.5, 0.5}})

	_, err := client.Classify(context.Background(), testTensor())
	if !errors.Is(err, emotion.ErrInvalidPrediction) {
		t.Fatalf("expected ErrInvalidPrediction, got %v", err)
	}
}

func TestDecodePredictionRejectsNonNumbers(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]interface{}{
		"probabilities": []interface{}{0.1, "high", 0.1, 0.1},
	})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	if _, err := decodePrediction(resp); !errors.Is(err, emotion.ErrInvalidPrediction) {
		t.Fatalf("expected ErrInvalidPrediction, got %v", err)
	}
}
