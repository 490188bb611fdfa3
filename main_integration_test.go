package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/handlers"
	"github.com/example/pulseai/internal/imageprocessor"
	"github.com/example/pulseai/internal/report"
	"github.com/example/pulseai/internal/usecase"
)


func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Get("http://" + addr + "/sessions")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

type fixedClassifier struct{ prediction emotion.Prediction }

func (f fixedClassifier) Classify(ctx context.Context, tensor *imageprocessor.Tensor) (emotion.Prediction, error) {
	return f.prediction, nil
}

func (fixedClassifier) Close() error { return nil }

func TestServerAnalyzesUploadThenShutsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	normalizer, err := imageprocessor.NewNormalizer(imageprocessor.DefaultEdge)
	require.NoError(t, err)
	rule, err := emotion.NewAlertRule(emotion.DefaultNegativeLabels, emotion.DefaultAlertThreshold)
	require.NoError(t, err)
	reportDir := t.TempDir()
	builder, err := report.NewBuilder(reportDir, logger)
	require.NoError(t, err)
	uc := usecase.NewSessionUseCase(normalizer, fixedClassifier{prediction: emotion.Prediction{0.05, 0.1, 0.15, 0.7}},
		rule, builder, usecase.NewMemoryCache(), logger)

	router := gin.New()
	handlers.RegisterRoutes(router, uc, handlers.Options{SessionSecret: "integration-secret"})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: router}
	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()
	addr := listener.Addr().String()
	waitForServer(t, addr)

	img := image.NewNRGBA(image.Rect(0, 0, 300, 300))
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "drawing.png")
	require.NoError(t, err)
	_, err = part.Write(encoded.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+addr+"/sessions", writer.FormDataContentType(), body)
	require.NoError(t, err)
	var created struct {
		SessionID string          `json:"session_id"`
		Token     string          `json:"token"`
		TopLabel  emotion.Label   `json:"top_label"`
		Alerts    []emotion.Alert `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, emotion.Sad, created.TopLabel)
	require.Len(t, created.Alerts, 1)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/sessions/"+created.SessionID+"/report", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	pdf, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	leftovers, err := filepath.Glob(filepath.Join(reportDir, "*.pdf"))
	require.NoError(t, err)
	require.Empty(t, leftovers)

	signalCh <- syscall.SIGTERM
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}
