package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes = 1 << 20

	defaultReplayAge   = 5 * time.Minute
	defaultReplayLimit = 100
)

type replayRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
	Limit            int `json:"limit"`
}

// HandleProviderWebhook acknowledges once the event is durably stored and
// applied. Failures after authentication return 5xx so the provider redelivers.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	receipt, err := s.ingress.HandleProviderEvent(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (s *Server) ReplayBillingEvents(c *gin.Context) {
	var req replayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.OlderThanSeconds < 0 || req.Limit < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	olderThan := defaultReplayAge
	if req.OlderThanSeconds > 0 {
		olderThan = time.Duration(req.OlderThanSeconds) * time.Second
	}
	limit := defaultReplayLimit
	if req.Limit > 0 {
		limit = req.Limit
	}

	ctx := c.Request.Context()
	replayed, err := s.ingress.ReplayPending(ctx, olderThan, limit)
	if err != nil {
		obslogger.FromContext(ctx).Warn("billing event replay incomplete", zap.Int("replayed", replayed), zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"replayed": replayed}})
}
