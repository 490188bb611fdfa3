package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/classifier"
	"github.com/example/pulseai/internal/config"
	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/grpcclient"
	"github.com/example/pulseai/internal/handlers"
	"github.com/example/pulseai/internal/imageprocessor"
	"github.com/example/pulseai/internal/logging"
	"github.com/example/pulseai/internal/report"
	"github.com/example/pulseai/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	normalizer, err := imageprocessor.NewNormalizer(cfg.ImageSize,
		imageprocessor.WithLayout(imageprocessor.Layout(cfg.TensorLayout)),
		imageprocessor.WithMaxPixels(cfg.MaxImagePixels))
	if err != nil {
		logger.Fatal("invalid normalizer configuration", zap.Error(err))
	}

	alertLabels, err := emotion.ParseLabels(cfg.AlertLabels)
	if err != nil {
		logger.Fatal("invalid alert labels", zap.Error(err))
	}
	alertRule, err := emotion.NewAlertRule(alertLabels, float32(cfg.AlertThreshold))
	if err != nil {
		logger.Fatal("invalid alert rule", zap.Error(err))
	}

	clf, err := initClassifier(ctx, cfg, normalizer, logger)
	if err != nil {
		logger.Fatal("failed to load classifier", zap.Error(err))
	}
	defer clf.Close() //nolint:errcheck

	builder, err := report.NewBuilder(cfg.ReportDir, logger)
	if err != nil {
		logger.Fatal("failed to prepare report directory", zap.Error(err))
	}

	cache := initCache(ctx, cfg, logger)
	uc := usecase.NewSessionUseCase(normalizer, clf, alertRule, builder, cache, logger,
		usecase.WithSessionTTL(cfg.SessionTTL))

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, uc, handlers.Options{
		SessionSecret:  cfg.SessionSecret,
		SessionTTL:     cfg.SessionTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("PulseAI API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("classifier", cfg.ClassifierBackend),
		zap.Int("image_size", normalizer.Edge()),
		zap.Strings("labels", labelNames()),
		zap.Float32("alert_threshold", alertRule.Threshold()))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initClassifier loads the model once for the whole process.
func initClassifier(ctx context.Context, cfg *config.Config, normalizer *imageprocessor.Normalizer, logger *zap.Logger) (classifier.Classifier, error) {
	if cfg.ModelMetadataPath != "" {
		meta, err := classifier.LoadMetadata(cfg.ModelMetadataPath)
		if err != nil {
			return nil, err
		}
		if err := meta.Check(normalizer); err != nil {
			return nil, err
		}
	}

	if cfg.ClassifierBackend == config.BackendGRPC {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		remote, err := grpcclient.DialClassifier(dialCtx, cfg.ClassifierAddr, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}

	fetcher := &classifier.Fetcher{AWSRegion: cfg.AWSRegion, Logger: logger}
	if err := fetcher.Ensure(ctx, cfg.ModelPath, cfg.ModelURL); err != nil {
		return nil, err
	}
	model, err := classifier.NewONNX(classifier.ONNXOptions{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.ONNXLibraryPath,
		InputName:   cfg.ONNXInputName,
		OutputName:  cfg.ONNXOutputName,
		InputShape:  normalizer.Shape(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return model, nil
}

func initCache(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) usecase.Cache {
	if cfg.RedisAddr == "" {
		zapLogger.Info("REDIS_ADDR not set, keeping sessions in memory")
		return usecase.NewMemoryCache()
	}
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, zapLogger))
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func labelNames() []string {
	names := make([]string, emotion.LabelCount)
	for i, l := range emotion.Labels() {
		names[i] = string(l)
	}
	return names
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
