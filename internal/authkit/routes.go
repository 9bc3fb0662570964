package authkit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const retryAfterSeconds = "5"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenPairResponse(pair TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// MountAuthRoutes registers /auth/login, /auth/refresh, /auth/logout, and /auth/me.
func MountAuthRoutes(router gin.IRouter, service *Service) {
	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		pair, err := service.Login(contextGin.Request.Context(), inbound.Username, inbound.Password)
		if err != nil {
			abortWithAuthError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, newTokenPairResponse(pair))
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound refreshRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		pair, err := service.Refresh(contextGin.Request.Context(), inbound.RefreshToken)
		if err != nil {
			abortWithAuthError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, newTokenPairResponse(pair))
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		var inbound refreshRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if err := service.Logout(contextGin.Request.Context(), inbound.RefreshToken); err != nil {
			abortWithAuthError(contextGin, err)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/auth/me", RequireAccessToken(service.Guard()), func(contextGin *gin.Context) {
		identity, ok := IdentityFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorCodeInvalidToken})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":      identity.UserID,
			"username":     identity.Username,
			"display_name": identity.DisplayName,
		})
	})
}

func abortWithAuthError(contextGin *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTransient):
		contextGin.Header("Retry-After", retryAfterSeconds)
		contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrorCodeTransient})
	case IsSecurityFailure(err):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorCode(err)})
	default:
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrorCodeInternal})
	}
}
