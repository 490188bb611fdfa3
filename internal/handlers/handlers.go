package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/auth"
	"github.com/example/pulseai/internal/emotion"
	"github.com/example/pulseai/internal/imageprocessor"
	"github.com/example/pulseai/internal/report"
	"github.com/example/pulseai/internal/usecase"
)

// MaxUploadSize is the default cap on an upload request body.
const MaxUploadSize = 10 << 20

const reportIDHeader = "X-Report-ID"

// Options tunes the HTTP surface.
type Options struct {
	SessionSecret  string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
}

type predictionView struct {
	Label       emotion.Label `json:"label"`
	Probability float32       `json:"probability"`
	Percent     string        `json:"percent"`
}

type sessionView struct {
	SessionID    string           `json:"session_id"`
	Token        string           `json:"token,omitempty"`
	State        usecase.State    `json:"state"`
	Predictions  []predictionView `json:"predictions"`
	TopLabel     emotion.Label    `json:"top_label"`
	Insight      emotion.Insight  `json:"insight"`
	Alerts       []emotion.Alert  `json:"alerts"`
	ReportCount  int              `json:"report_count"`
	LastReportID string           `json:"last_report_id,omitempty"`
}

func newSessionView(s *usecase.Session) sessionView {
	predictions := make([]predictionView, 0, emotion.LabelCount)
	for _, score := range s.Prediction.Scores() {
		predictions = append(predictions, predictionView{Label: score.Label, Probability: score.Probability, Percent: score.Percent})
	}
	alerts := s.Alerts
	if alerts == nil {
		alerts = []emotion.Alert{}
	}
	return sessionView{
		SessionID:    s.ID,
		State:        s.State,
		Predictions:  predictions,
		TopLabel:     s.TopLabel,
		Insight:      s.Insight,
		Alerts:       alerts,
		ReportCount:  s.ReportCount,
		LastReportID: s.LastReportID,
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.SessionUseCase, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	sessionTTL := opts.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = usecase.DefaultSessionTTL
	}
	requireSession := auth.SessionMiddleware(opts.SessionSecret, "id")

	router.Use(RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/sessions", RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, logger), func(c *gin.Context) {
		requestID := requestIDFrom(c)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
			case errors.Is(err, http.ErrMissingFile):
				c.Status(http.StatusNoContent)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field image is required"})
			}
			return
		}
		if file.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
			return
		}
		if !acceptedMediaType(file.Filename, file.Header.Get("Content-Type")) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only jpg, jpeg and png images are accepted"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		s, err := uc.Analyze(c.Request.Context(), requestID, usecase.Upload{Filename: file.Filename, Data: data})
		if err != nil {
			if errors.Is(err, usecase.ErrNoImage) {
				c.Status(http.StatusNoContent)
				return
			}
			writeError(c, logger, err)
			return
		}

		token, err := auth.IssueSessionToken(opts.SessionSecret, s.ID, sessionTTL)
		if err != nil {
			logger.Error("failed to issue session token", zap.String("request_id", requestID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}

		view := newSessionView(s)
		view.Token = token
		c.JSON(http.StatusCreated, view)
	})

	router.GET("/sessions/:id", requireSession, func(c *gin.Context) {
		s, err := uc.GetSession(c.Request.Context(), requestIDFrom(c), c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(s))
	})

	router.POST("/sessions/:id/report", requireSession, func(c *gin.Context) {
		_, err := uc.ExportReport(c.Request.Context(), requestIDFrom(c), c.Param("id"), func(a *report.Artifact) error {
			src, err := a.Open()
			if err != nil {
				return err
			}
			defer src.Close()

			c.Header("Content-Type", a.ContentType())
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
			c.Header("Content-Length", strconv.FormatInt(a.Size, 10))
			c.Header(reportIDHeader, a.ID)
			c.Status(http.StatusOK)
			if _, err := io.Copy(c.Writer, src); err != nil {
				return fmt.Errorf("%w: %v", report.ErrDelivery, err)
			}
			return nil
		})
		if err != nil {
			if c.Writer.Written() {
				c.Abort()
				return
			}
			clearReportHeaders(c)
			writeError(c, logger, err)
		}
	})

	router.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func acceptedMediaType(filename, contentType string) bool {
	if !imageprocessor.AllowedExtension(filename) {
		return false
	}
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

// clearReportHeaders drops the PDF headers set for a delivery that failed
// before any body byte was written.
func clearReportHeaders(c *gin.Context) {
	h := c.Writer.Header()
	for _, key := range []string{"Content-Type", "Content-Length", "Content-Disposition", reportIDHeader} {
		h.Del(key)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, imageprocessor.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, imageprocessor.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, usecase.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("request_id", requestIDFrom(c)), zap.Error(err))
		c.JSON(status, gin.H{"error": publicMessage(err), "request_id": requestIDFrom(c)})
		return
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, imageprocessor.ErrDecode):
		return "image could not be decoded"
	case errors.Is(err, imageprocessor.ErrTooLarge):
		return "image dimensions exceed the pixel limit"
	case errors.Is(err, usecase.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, usecase.ErrInvalidTransition):
		return "session is not ready for this action"
	case errors.Is(err, report.ErrReportIO):
		return "report could not be generated"
	default:
		return "internal error"
	}
}
