package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const contextAuthTypeKey = "auth_type"

// AdminAuthRequired accepts a bearer token whose bcrypt hash matches the
// configured admin hash. Without a configured hash every admin call is refused.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(s.cfg.AdminTokenHash))
	return func(c *gin.Context) {
		if len(hash) == 0 {
			obslogger.FromContext(c.Request.Context()).Warn("admin route called without configured token hash")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			obslogger.FromContext(c.Request.Context()).Info("admin token rejected", zap.String("reason", err.Error()))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAuthTypeKey, "admin")
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}
