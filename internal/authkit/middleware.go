package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IdentityContextKey is where RequireAccessToken stores the caller identity.
const IdentityContextKey = "auth_identity"

// Authorizer resolves an access token into an identity.
type Authorizer interface {
	Authorize(presented string) (Identity, error)
}

// RequireAccessToken validates the bearer access token and injects the identity.
func RequireAccessToken(authorizer Authorizer) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		presented, ok := BearerToken(contextGin.Request)
		if !ok {
			contextGin.Header("WWW-Authenticate", `Bearer realm="sensorhub"`)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorCodeInvalidToken})
			return
		}
		identity, err := authorizer.Authorize(presented)
		if err != nil {
			contextGin.Header("WWW-Authenticate", `Bearer realm="sensorhub", error="invalid_token"`)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorCode(err)})
			return
		}
		contextGin.Set(IdentityContextKey, identity)
		contextGin.Next()
	}
}

// IdentityFromContext returns the identity stored by RequireAccessToken.
func IdentityFromContext(contextGin *gin.Context) (Identity, bool) {
	value, found := contextGin.Get(IdentityContextKey)
	if !found {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(request *http.Request) (string, bool) {
	if request == nil {
		return "", false
	}
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
