package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrConfiguration reports an invalid or incomplete configuration.
var ErrConfiguration = errors.New("config: invalid configuration")

// Classifier backends.
const (
	BackendONNX = "onnx"
	BackendGRPC = "grpc"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr       string `validate:"required"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFile        string
	MaxUploadBytes int64 `validate:"gt=0"`

	ImageSize      int    `validate:"gt=0"`
	TensorLayout   string `validate:"oneof=nhwc nchw"`
	MaxImagePixels int    `validate:"gt=0"`

	ClassifierBackend string `validate:"oneof=onnx grpc"`
	ModelPath         string `validate:"required_if=ClassifierBackend onnx"`
	ModelURL          string `validate:"omitempty,url"`
	ModelMetadataPath string
	ONNXLibraryPath   string
	ONNXInputName     string `validate:"required_if=ClassifierBackend onnx"`
	ONNXOutputName    string `validate:"required_if=ClassifierBackend onnx"`
	ClassifierAddr    string `validate:"required_if=ClassifierBackend grpc"`
	AWSRegion         string

	AlertLabels    string
	AlertThreshold float64 `validate:"gte=0,lte=1"`

	RedisAddr     string
	SessionTTL    time.Duration `validate:"gt=0"`
	SessionSecret string        `validate:"required"`
	ReportDir     string        `validate:"required"`

	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"gt=0"`
}

// Load reads an optional .env file, then the process environment, and
// validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		HTTPAddr:       env.str("HTTP_ADDR", ":8080"),
		LogLevel:       strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFile:        env.str("LOG_FILE", ""),
		MaxUploadBytes: env.int64("MAX_UPLOAD_BYTES", 10<<20),

		ImageSize:      env.int("IMAGE_SIZE", 128),
		TensorLayout:   strings.ToLower(env.str("TENSOR_LAYOUT", "nhwc")),
		MaxImagePixels: env.int("MAX_IMAGE_PIXELS", 40_000_000),

		ClassifierBackend: strings.ToLower(env.str("CLASSIFIER_BACKEND", BackendONNX)),
		ModelPath:         env.str("MODEL_PATH", filepath.Join("models", "emotion_classifier.onnx")),
		ModelURL:          env.str("MODEL_URL", ""),
		ModelMetadataPath: env.str("MODEL_METADATA_PATH", ""),
		ONNXLibraryPath:   env.str("ONNX_LIBRARY_PATH", ""),
		ONNXInputName:     env.str("ONNX_INPUT_NAME", "input"),
		ONNXOutputName:    env.str("ONNX_OUTPUT_NAME", "output"),
		ClassifierAddr:    env.str("CLASSIFIER_ADDR", ""),
		AWSRegion:         env.str("AWS_REGION", "us-east-1"),

		AlertLabels:    env.str("ALERT_LABELS", "Fear,Sad"),
		AlertThreshold: env.float("ALERT_THRESHOLD", 0.6),

		RedisAddr:     env.str("REDIS_ADDR", ""),
		SessionTTL:    env.duration("SESSION_TTL", 30*time.Minute),
		SessionSecret: env.str("SESSION_SECRET", ""),
		ReportDir:     env.str("REPORT_DIR", os.TempDir()),

		RateLimitRPS:   env.float("RATE_LIMIT_RPS", 5),
		RateLimitBurst: env.int("RATE_LIMIT_BURST", 10),
	}

	if len(env.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(env.errs, "; "))
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []string
}

func (e *envReader) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e *envReader) int(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an integer", key, raw))
		return fallback
	}
	return v
}

func (e *envReader) int64(key string, fallback int64) int64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an integer", key, raw))
		return fallback
	}
	return v
}

func (e *envReader) float(key string, fallback float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a number", key, raw))
		return fallback
	}
	return v
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a duration", key, raw))
		return fallback
	}
	return v
}
