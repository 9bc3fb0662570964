// Package web hosts the HTTP plumbing shared by the sensorhub API: CORS, health, and user administration.
package web

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
	errUnsupportedScheme   = errors.New("cors: origin scheme must be http or https")
)

// ConfigureCORS enables cross-origin requests for supplied origins.
// Bearer tokens travel in the Authorization header, so cookies are never allowed.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type", "Retry-After", "WWW-Authenticate"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}), nil
}

// sanitizeOrigins normalizes origins to scheme://host[:port], keeping the first occurrence of each.
func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	origins := make([]string, 0, len(allowed))
	seen := make(map[string]bool, len(allowed))
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		origin, plainHTTP, err := normalizeOrigin(raw)
		if err != nil {
			return nil, err
		}
		if seen[origin] {
			continue
		}
		seen[origin] = true
		if plainHTTP {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", origin))
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return origins, nil
}

// normalizeOrigin reports plainHTTP for http origins outside loopback.
func normalizeOrigin(raw string) (origin string, plainHTTP bool, err error) {
	if raw == "*" {
		return "", false, errWildcardOrigin
	}
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || parsed.Host == "" {
		return "", false, fmt.Errorf("%w: %s", errInvalidOrigin, raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return "", false, fmt.Errorf("%w: %s", errUnsupportedScheme, raw)
	case parsed.User != nil:
		return "", false, fmt.Errorf("%w: %s carries credentials", errInvalidOrigin, raw)
	case parsed.Path != "" && parsed.Path != "/":
		return "", false, fmt.Errorf("%w: %s contains path segment", errInvalidOrigin, raw)
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return "", false, fmt.Errorf("%w: %s contains query or fragment", errInvalidOrigin, raw)
	}
	origin = scheme + "://" + strings.ToLower(parsed.Host)
	return origin, scheme == "http" && !isLoopbackHost(parsed.Hostname()), nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
