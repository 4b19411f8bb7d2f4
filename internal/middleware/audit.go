package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records an audit entry after a successful request. The :id route parameter,
// when present, becomes the resource id.
func Audit(repo auditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if repo == nil || c.Writer.Status() >= 400 {
			return
		}

		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			Outcome:   models.AuditOutcomeSuccess,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if claims, ok := c.Get(ContextUserKey); ok {
			if user, ok := claims.(*models.JWTClaims); ok {
				entry.UserID = &user.UserID
			}
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		entry.Context, _ = json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		if err := repo.CreateAuditLog(context.WithoutCancel(c.Request.Context()), entry); err != nil {
			logger.Warn("failed to persist request audit", zap.String("action", action), zap.Error(err))
		}
	}
}
