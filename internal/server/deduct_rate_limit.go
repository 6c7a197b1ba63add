package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"go.uber.org/zap"
)

const rateLimitReasonAccountRate = "account-rate"

type deductLimiter interface {
	Allow(ctx context.Context, accountID string) (ratelimit.Result, error)
}

// DeductRateLimit applies the per-account token bucket in front of Deduct.
// Redis errors fail open: the ledger itself never overdraws.
func (s *Server) DeductRateLimit() gin.HandlerFunc {
	if !s.deductLimiter.Enabled() {
		return deductRateLimit(nil, s.obsMetrics)
	}
	return deductRateLimit(s.deductLimiter, s.obsMetrics)
}

func deductRateLimit(limiter deductLimiter, metrics *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		accountID := strings.TrimSpace(c.Param("account_id"))
		result, err := limiter.Allow(ctx, accountID)
		if err != nil {
			obslogger.FromContext(ctx).Warn("deduct rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			denyDeductRateLimit(c, result, metrics)
			return
		}

		c.Next()
	}
}

func denyDeductRateLimit(c *gin.Context, result ratelimit.Result, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)
	obslogger.FromContext(ctx).Warn("deduct rate limit exceeded",
		zap.String("reason", rateLimitReasonAccountRate),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimited(ctx, endpoint, rateLimitReasonAccountRate)

	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonAccountRate)
	AbortWithError(c, ErrRateLimited)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
