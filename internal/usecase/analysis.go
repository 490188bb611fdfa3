package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/classifier"
	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
	"github.com/example/pulseai/internal/logging"
	"github.com/example/pulseai/internal/report"
)

var (
	// ErrNoImage is returned when an upload carries no bytes; the session stays idle.
	ErrNoImage = errors.New("usecase: no image uploaded")
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("usecase: session not found")
	// ErrInvalidTransition is returned when an action does not fit the session state.
	ErrInvalidTransition = errors.New("usecase: invalid session transition")
)

// DefaultSessionTTL bounds how long a classified session can be reported on.
const DefaultSessionTTL = 30 * time.Minute

// ReportRenderer renders report artifacts.
type ReportRenderer interface {
	Render(in report.Input) (*report.Artifact, error)
}

// Upload is one uploaded drawing.
type Upload struct {
	Filename string
	Data     []byte
}

// SessionUseCase sequences normalize, classify, insight lookup and report export.
type SessionUseCase struct {
	normalizer     *imageprocessor.Normalizer
	classifier     classifier.Classifier
	alerts         *emotion.AlertRule
	reports        ReportRenderer
	cache          Cache
	metrics        *Metrics
	logger         *zap.Logger
	sessionTTL     time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// Option customizes a SessionUseCase.
type Option func(*SessionUseCase)

// WithSessionTTL sets how long session records are kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(uc *SessionUseCase) {
		if ttl > 0 {
			uc.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(uc *SessionUseCase) { uc.now = now }
}

// NewSessionUseCase constructs a new use case instance. The classifier is
// shared by every session.
func NewSessionUseCase(normalizer *imageprocessor.Normalizer, clf classifier.Classifier, alerts *emotion.AlertRule, reports ReportRenderer, cache Cache, logger *zap.Logger, opts ...Option) *SessionUseCase {
	uc := &SessionUseCase{
		normalizer:     normalizer,
		classifier:     clf,
		alerts:         alerts,
		reports:        reports,
		cache:          cache,
		metrics:        NewMetrics(),
		logger:         logger.Named("session_usecase"),
		sessionTTL:     DefaultSessionTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Analyze runs an upload through normalize and classify and stores the
// classified session.
func (uc *SessionUseCase) Analyze(ctx context.Context, requestID string, upload Upload) (*Session, error) {
	s := NewSession(uuid.NewString(), uc.now())
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze", requestID), s.ID)

	if len(upload.Data) == 0 {
		return nil, ErrNoImage
	}
	if err := s.Transition(StateImageReceived, uc.now()); err != nil {
		return nil, err
	}

	tensor, err := uc.normalizer.NormalizeBytes(upload.Data)
	if err != nil {
		_ = s.Transition(StateIdle, uc.now())
		uc.metrics.recordDecodeFailure()
		wrapped := logging.NewSessionError("usecase.normalize", requestID, s.ID, err)
		if errors.Is(err, imageprocessor.ErrDecode) || errors.Is(err, imageprocessor.ErrTooLarge) {
			opLogger.Warn("upload rejected", zap.String("filename", upload.Filename), zap.Error(err))
		} else {
			opLogger.Error("normalizer misconfigured", zap.Error(wrapped))
		}
		return nil, wrapped
	}
	if err := s.Transition(StateNormalized, uc.now()); err != nil {
		return nil, err
	}

	start := time.Now()
	prediction, err := uc.classifier.Classify(ctx, tensor)
	latency := time.Since(start)
	if err != nil {
		_ = s.Transition(StateIdle, uc.now())
		uc.metrics.recordClassifyFailure()
		wrapped := logging.NewSessionError("usecase.classify", requestID, s.ID, err)
		if errors.Is(err, emotion.ErrInvalidPrediction) {
			opLogger.Error("classifier output violates label contract", zap.Error(wrapped))
		} else {
			opLogger.Error("classification failed", zap.Error(wrapped))
		}
		return nil, wrapped
	}

	if err := uc.classify(s, prediction); err != nil {
		_ = s.Transition(StateIdle, uc.now())
		uc.metrics.recordClassifyFailure()
		wrapped := logging.NewSessionError("usecase.evaluate_prediction", requestID, s.ID, err)
		opLogger.Error("prediction rejected", zap.Error(wrapped))
		return nil, wrapped
	}

	if err := uc.saveSession(ctx, requestID, s); err != nil {
		opLogger.Error("failed to store session", zap.Error(err))
		return nil, err
	}

	uc.metrics.recordClassified(s.TopLabel, s.Alerts, latency)
	opLogger.Info("drawing classified",
		zap.String("top_label", string(s.TopLabel)),
		zap.Int("alerts", len(s.Alerts)),
		zap.Duration("classify_latency", latency))
	return s, nil
}

func (uc *SessionUseCase) classify(s *Session, prediction emotion.Prediction) error {
	top, _, err := prediction.Top()
	if err != nil {
		return err
	}
	insight, err := emotion.LookupInsight(top)
	if err != nil {
		return err
	}
	alerts, err := uc.alerts.Evaluate(prediction)
	if err != nil {
		return err
	}

	s.Prediction = prediction
	s.TopLabel = top
	s.Insight = insight
	s.Alerts = alerts
	return s.Transition(StateClassified, uc.now())
}

// GetSession loads a stored session.
func (uc *SessionUseCase) GetSession(ctx context.Context, requestID, sessionID string) (*Session, error) {
	raw, err := uc.withCacheGet(ctx, requestID, "cache.get.session", sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, logging.NewSessionError("usecase.get_session", requestID, sessionID, ErrSessionNotFound)
		}
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		logging.WithOperation(uc.logger, "usecase.get_session", requestID).Warn("failed to decode cached session", zap.Error(err))
		return nil, logging.NewSessionError("usecase.get_session", requestID, sessionID, ErrSessionNotFound)
	}
	return &s, nil
}

// ExportReport renders a fresh report for a classified session and passes it
// to deliver. The report file is removed before ExportReport returns, whether
// or not deliver succeeded.
func (uc *SessionUseCase) ExportReport(ctx context.Context, requestID, sessionID string, deliver func(*report.Artifact) error) (*Session, error) {
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.export_report", requestID), sessionID)

	s, err := uc.GetSession(ctx, requestID, sessionID)
	if err != nil {
		return nil, err
	}
	previous := s.State
	if err := s.Transition(StateReportRequested, uc.now()); err != nil {
		return nil, logging.NewSessionError("usecase.export_report", requestID, sessionID, err)
	}

	artifact, err := uc.reports.Render(report.Input{
		ReportID:   uuid.NewString(),
		Prediction: s.Prediction,
		TopLabel:   s.TopLabel,
		Insight:    s.Insight,
		Alerts:     s.Alerts,
	})
	if err != nil {
		uc.metrics.recordReport(false)
		wrapped := logging.NewSessionError("usecase.render_report", requestID, sessionID, err)
		opLogger.Error("report rendering failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer func() {
		if err := artifact.Close(); err != nil {
			opLogger.Error("report cleanup failed", zap.String("report_id", artifact.ID), zap.Error(err))
		}
	}()

	if err := deliver(artifact); err != nil {
		uc.metrics.recordReport(false)
		s.State = previous
		wrapped := logging.NewSessionError("usecase.deliver_report", requestID, sessionID, asDeliveryError(err))
		opLogger.Warn("report delivery failed", zap.String("report_id", artifact.ID), zap.Error(err))
		return nil, wrapped
	}

	if err := s.Transition(StateReportDelivered, uc.now()); err != nil {
		return nil, err
	}
	s.ReportCount++
	s.LastReportID = artifact.ID
	uc.metrics.recordReport(true)

	if err := uc.saveSession(ctx, requestID, s); err != nil {
		opLogger.Warn("report delivered but session update failed", zap.Error(err))
		return s, nil
	}
	opLogger.Info("report delivered", zap.String("report_id", artifact.ID), zap.Int64("bytes", artifact.Size))
	return s, nil
}

func asDeliveryError(err error) error {
	if errors.Is(err, report.ErrDelivery) || errors.Is(err, report.ErrReportIO) {
		return err
	}
	return fmt.Errorf("%w: %v", report.ErrDelivery, err)
}

func (uc *SessionUseCase) saveSession(ctx context.Context, requestID string, s *Session) error {
	serialized, err := json.Marshal(s)
	if err != nil {
		return logging.NewSessionError("usecase.encode_session", requestID, s.ID, err)
	}
	return uc.withCacheRetry(ctx, requestID, "cache.set.session", func() error {
		return uc.cache.Set(ctx, sessionKey(s.ID), string(serialized), uc.sessionTTL)
	})
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (uc *SessionUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *SessionUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
