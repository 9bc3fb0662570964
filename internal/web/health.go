package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls function.
func (function PingFunc) Ping(ctx context.Context) error {
	return function(ctx)
}

// HandleHealth reports ok once every pinger answers.
func HandleHealth(logger *zap.Logger, pingers map[string]Pinger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		ctx, cancel := context.WithTimeout(contextGin.Request.Context(), healthCheckTimeout)
		defer cancel()
		for name, pinger := range pingers {
			if err := pinger.Ping(ctx); err != nil {
				logger.Warn("health check failed",
					zap.String("code", "health.dependency_unavailable"),
					zap.String("dependency", name),
					zap.Error(err))
				contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": name})
				return
			}
		}
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
