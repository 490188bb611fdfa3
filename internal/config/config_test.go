package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// lookupFrom serves values, supplying SESSION_SECRET unless values sets it.
func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		if !ok && key == "SESSION_SECRET" {
			return testSecret, true
		}
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 128, cfg.ImageSize)
	require.Equal(t, "nhwc", cfg.TensorLayout)
	require.Equal(t, BackendONNX, cfg.ClassifierBackend)
	require.Equal(t, "Fear,Sad", cfg.AlertLabels)
	require.InDelta(t, 0.6, cfg.AlertThreshold, 1e-9)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.Empty(t, cfg.RedisAddr)
	require.Equal(t, testSecret, cfg.SessionSecret)
}

func TestFromLookupRequiresSessionSecret(t *testing.T) {
	for _, value := range []string{"", "   "} {
		_, err := FromLookup(lookupFrom(map[string]string{"SESSION_SECRET": value}))
		require.ErrorIs(t, err, ErrConfiguration)
		require.Contains(t, err.Error(), "SessionSecret")
	}

	_, err := FromLookup(func(string) (string, bool) { return "", false })
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"IMAGE_SIZE":         "64",
		"TENSOR_LAYOUT":      "NCHW",
		"CLASSIFIER_BACKEND": "grpc",
		"CLASSIFIER_ADDR":    "classifier:50051",
		"ALERT_THRESHOLD":    "0.75",
		"SESSION_TTL":        "5m",
		"MODEL_URL":          "https://models.example.com/emotion.onnx",
	}))
	require.NoError(t, err)
	require.Equal(t, 64, cfg.ImageSize)
	require.Equal(t, "nchw", cfg.TensorLayout)
	require.Equal(t, BackendGRPC, cfg.ClassifierBackend)
	require.Equal(t, "classifier:50051", cfg.ClassifierAddr)
	require.InDelta(t, 0.75, cfg.AlertThreshold, 1e-9)
	require.Equal(t, 5*time.Minute, cfg.SessionTTL)
}

func TestFromLookupRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"non-positive image size": {"IMAGE_SIZE": "0"},
		"non-numeric image size":  {"IMAGE_SIZE": "large"},
		"unknown layout":          {"TENSOR_LAYOUT": "hwc"},
		"threshold above one":     {"ALERT_THRESHOLD": "1.5"},
		"grpc without address":    {"CLASSIFIER_BACKEND": "grpc"},
		"unknown backend":         {"CLASSIFIER_BACKEND": "tflite"},
		"bad duration":            {"SESSION_TTL": "soon"},
		"bad model url":           {"MODEL_URL": "not a url"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(env))
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
