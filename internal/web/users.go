package web

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/sensorhub/internal/authkit"
	"go.uber.org/zap"
)

const (
	defaultUsersPageSize = 20
	maxUsersPageSize     = 100
	minPasswordLength    = 8
)

var errUserStoreRequired = errors.New("web.users: user store is required")

// SubjectRevoker revokes every live refresh token of a user.
type SubjectRevoker interface {
	RevokeUser(ctx context.Context, userID string) (int64, error)
}

// UserHandlers serves user administration endpoints behind RequireAccessToken.
type UserHandlers struct {
	users   authkit.UserStore
	hasher  *authkit.PasswordHasher
	revoker SubjectRevoker
	logger  *zap.Logger
}

// NewUserHandlers wires the handlers.
func NewUserHandlers(users authkit.UserStore, hasher *authkit.PasswordHasher, revoker SubjectRevoker, logger *zap.Logger) (*UserHandlers, error) {
	if users == nil {
		return nil, errUserStoreRequired
	}
	if hasher == nil {
		return nil, errors.New("web.users: password hasher is required")
	}
	if revoker == nil {
		return nil, errors.New("web.users: revoker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandlers{users: users, hasher: hasher, revoker: revoker, logger: logger}, nil
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newUserResponse(user authkit.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	Password    *string `json:"password"`
}

// Mount registers /me and /users routes on router. PUT is an alias of PATCH.
func (handlers *UserHandlers) Mount(router gin.IRouter) {
	router.GET("/me", HandleWhoAmI(handlers.logger, handlers.users))
	router.GET("/users", handlers.list)
	router.POST("/users", handlers.create)
	router.GET("/users/:id", handlers.get)
	router.PATCH("/users/:id", handlers.update)
	router.PUT("/users/:id", handlers.update)
	router.DELETE("/users/:id", handlers.remove)
}

func (handlers *UserHandlers) list(contextGin *gin.Context) {
	page, pageErr := positiveQueryInt(contextGin, "page", 1)
	pageSize, sizeErr := positiveQueryInt(contextGin, "page_size", defaultUsersPageSize)
	if pageErr != nil || sizeErr != nil || pageSize > maxUsersPageSize {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	users, total, err := handlers.users.ListUsers(contextGin.Request.Context(), pageOffset(page, pageSize), pageSize)
	if err != nil {
		handlers.abortWithStoreError(contextGin, "api.users.list_failed", err)
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, user := range users {
		items = append(items, newUserResponse(user))
	}
	totalPages := (int(total) + pageSize - 1) / pageSize
	contextGin.JSON(http.StatusOK, gin.H{
		"items":       items,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

func (handlers *UserHandlers) create(contextGin *gin.Context) {
	var inbound createUserRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	username := strings.TrimSpace(inbound.Username)
	if username == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		return
	}
	if len(inbound.Password) < minPasswordLength {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
		return
	}
	passwordHash, hashErr := handlers.hasher.Hash(inbound.Password)
	if hashErr != nil {
		handlers.abortWithStoreError(contextGin, "api.users.hash_failed", hashErr)
		return
	}
	user, err := handlers.users.CreateUser(contextGin.Request.Context(), username, inbound.DisplayName, passwordHash)
	if err != nil {
		handlers.abortWithStoreError(contextGin, "api.users.create_failed", err)
		return
	}
	handlers.logger.Info("user created",
		zap.String("code", "api.users.created"),
		zap.String("user_id", user.ID),
		zap.String("actor_id", actorID(contextGin)))
	contextGin.JSON(http.StatusCreated, newUserResponse(user))
}

func (handlers *UserHandlers) get(contextGin *gin.Context) {
	user, err := handlers.users.GetUser(contextGin.Request.Context(), contextGin.Param("id"))
	if err != nil {
		handlers.abortWithStoreError(contextGin, "api.users.get_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, newUserResponse(user))
}

func (handlers *UserHandlers) update(contextGin *gin.Context) {
	var inbound updateUserRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	if inbound.DisplayName == nil && inbound.Password == nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty_update"})
		return
	}
	update := authkit.UserUpdate{DisplayName: inbound.DisplayName}
	if inbound.Password != nil {
		if len(*inbound.Password) < minPasswordLength {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
			return
		}
		passwordHash, hashErr := handlers.hasher.Hash(*inbound.Password)
		if hashErr != nil {
			handlers.abortWithStoreError(contextGin, "api.users.hash_failed", hashErr)
			return
		}
		update.PasswordHash = &passwordHash
	}
	user, err := handlers.users.UpdateUser(contextGin.Request.Context(), contextGin.Param("id"), update)
	if err != nil {
		handlers.abortWithStoreError(contextGin, "api.users.update_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, newUserResponse(user))
}

func (handlers *UserHandlers) remove(contextGin *gin.Context) {
	userID := contextGin.Param("id")
	if userID == actorID(contextGin) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot_delete_self"})
		return
	}
	ctx := contextGin.Request.Context()
	if err := handlers.users.DeleteUser(ctx, userID); err != nil {
		handlers.abortWithStoreError(contextGin, "api.users.delete_failed", err)
		return
	}
	revoked, revokeErr := handlers.revoker.RevokeUser(ctx, userID)
	if revokeErr != nil {
		handlers.logger.Error("revoking deleted user's tokens failed",
			zap.String("code", "api.users.revoke_failed"),
			zap.String("user_id", userID),
			zap.Error(revokeErr))
	}
	handlers.logger.Info("user deleted",
		zap.String("code", "api.users.deleted"),
		zap.String("user_id", userID),
		zap.String("actor_id", actorID(contextGin)),
		zap.Int64("revoked_tokens", revoked))
	contextGin.Status(http.StatusNoContent)
}

func (handlers *UserHandlers) abortWithStoreError(contextGin *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, authkit.ErrUserNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, authkit.ErrUsernameTaken):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "username_taken"})
	default:
		handlers.logger.Error("user store failure",
			zap.String("code", code),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": authkit.ErrorCodeInternal})
	}
}

// HandleWhoAmI resolves the authenticated user's stored profile.
func HandleWhoAmI(logger *zap.Logger, users authkit.UserStore) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil {
		panic(errUserStoreRequired)
	}

	return func(contextGin *gin.Context) {
		identity, found := authkit.IdentityFromContext(contextGin)
		if !found || identity.UserID == "" {
			logger.Warn("missing identity on context",
				zap.String("code", "api.me.missing_identity"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authkit.ErrorCodeInvalidToken})
			return
		}

		user, err := users.GetUser(contextGin.Request.Context(), identity.UserID)
		if err != nil {
			if errors.Is(err, authkit.ErrUserNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.me.profile_missing"),
					zap.String("user_id", identity.UserID))
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authkit.ErrorCodeInvalidToken})
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.me.profile_error"),
				zap.String("user_id", identity.UserID),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": authkit.ErrorCodeInternal})
			return
		}

		contextGin.JSON(http.StatusOK, newUserResponse(user))
	}
}

func actorID(contextGin *gin.Context) string {
	identity, _ := authkit.IdentityFromContext(contextGin)
	return identity.UserID
}

// pageOffset saturates at math.MaxInt instead of wrapping for huge page numbers.
func pageOffset(page int, pageSize int) int {
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}

func positiveQueryInt(contextGin *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(contextGin.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return value, nil
}
