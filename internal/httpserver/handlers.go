package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/mdm-webhook/internal/ack"
	"github.com/tinytelemetry/mdm-webhook/internal/model"
	"github.com/tinytelemetry/mdm-webhook/internal/recorder"
)

// handleWebhook always answers 200 with an empty body. The MDM server
// retries non-2xx deliveries, and a local parsing bug must not cause that.
func (s *Server) handleWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "unexpected error in webhook", "panic", rec)
		}
		c.Status(http.StatusOK)
	}()

	body, err := c.GetRawData()
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook: read body", "error", err)
		return
	}
	env, err := ack.ParseEnvelope(body)
	if err != nil {
		s.logger.ErrorContext(ctx, "unexpected error in webhook", "error", err)
		return
	}
	s.reporter.Report(ctx, env)
}

func (s *Server) handleCommandResult(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		s.logger.ErrorContext(ctx, "command result: read body", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var sub model.Submission
	if err := json.Unmarshal(body, &sub); err != nil || sub == nil {
		s.logger.ErrorContext(ctx, "command result: body is not a JSON object", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if _, err := s.recorder.Record(ctx, sub); err != nil {
		var validationErr *recorder.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Missing required fields",
				"missing": validationErr.Missing,
			})
			return
		}
		s.logger.ErrorContext(ctx, "error processing command result", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleHealth never touches the results log.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   s.cfg.Service,
		"version":   s.cfg.Version,
		"timestamp": model.FormatTimestamp(time.Now()),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	summary, err := s.aggregator.Compute(c.Request.Context())
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "error generating metrics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to generate metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metrics":   summary,
		"timestamp": model.FormatTimestamp(time.Now()),
	})
}
