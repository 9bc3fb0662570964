package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/sensorhub/internal/authkit"
)

// MountRoutes registers the measurement endpoints on router, which must already require an access token.
func MountRoutes(router gin.IRouter, service *Service) {
	router.POST("/measurements", func(contextGin *gin.Context) {
		identity, ok := authkit.IdentityFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authkit.ErrorCodeInvalidToken})
			return
		}
		var reading Reading
		if err := contextGin.ShouldBindJSON(&reading); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		measurement, err := service.Record(contextGin.Request.Context(), identity.UserID, reading)
		if err != nil {
			abortWithTelemetryError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusCreated, measurement)
	})

	router.GET("/measurements/:id", func(contextGin *gin.Context) {
		id, parseErr := strconv.ParseInt(contextGin.Param("id"), 10, 64)
		if parseErr != nil || id < 1 {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		measurement, err := service.Get(contextGin.Request.Context(), id)
		if err != nil {
			abortWithTelemetryError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, measurement)
	})

	router.GET("/measurements", func(contextGin *gin.Context) {
		query, parseErr := parseListQuery(contextGin)
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "detail": parseErr.Error()})
			return
		}
		page, err := service.List(contextGin.Request.Context(), query)
		if err != nil {
			abortWithTelemetryError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, page)
	})
}

func parseListQuery(contextGin *gin.Context) (Query, error) {
	var query Query
	var err error
	if query.Range.Start, err = parseOptionalTime(contextGin.Query("start_time")); err != nil {
		return Query{}, err
	}
	if query.Range.End, err = parseOptionalTime(contextGin.Query("end_time")); err != nil {
		return Query{}, err
	}
	if raw := strings.TrimSpace(contextGin.Query("min_interval_minutes")); raw != "" {
		minutes, convErr := strconv.Atoi(raw)
		if convErr != nil || minutes < 1 {
			return Query{}, errors.New("min_interval_minutes must be a positive integer")
		}
		query.MinInterval = time.Duration(minutes) * time.Minute
	}
	if query.Page, err = parseOptionalInt(contextGin.Query("page"), "page"); err != nil {
		return Query{}, err
	}
	if query.PageSize, err = parseOptionalInt(contextGin.Query("page_size"), "page_size"); err != nil {
		return Query{}, err
	}
	if contextGin.Query("page") != "" && query.Page < 1 {
		return Query{}, errors.New("page must be at least 1")
	}
	if contextGin.Query("page_size") != "" && (query.PageSize < 1 || query.PageSize > MaxPageSize) {
		return Query{}, errors.New("page_size must be between 1 and 100")
	}
	return query, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errors.New("timestamps must be RFC 3339")
	}
	return &parsed, nil
}

func parseOptionalInt(raw string, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return value, nil
}

func abortWithTelemetryError(contextGin *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidMeasurement):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_measurement", "detail": err.Error()})
	case errors.Is(err, ErrInvalidQuery):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "detail": err.Error()})
	case errors.Is(err, ErrMeasurementNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": authkit.ErrorCodeInternal})
	}
}
