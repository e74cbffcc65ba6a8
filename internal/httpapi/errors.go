package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"family-planner/internal/calendar"
	"family-planner/internal/plan"
	"family-planner/internal/planner"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, repository.ErrStaleStatus),
		errors.Is(err, plan.ErrPlanClosed),
		errors.Is(err, service.ErrPlanExists),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, schedule.ErrValidationRejected),
		errors.Is(err, schedule.ErrInvalidInterval),
		errors.Is(err, schedule.ErrInvalidTask),
		errors.Is(err, plan.ErrInvalidDecision),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plan.ErrNotMember),
		errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNoFamily):
		return http.StatusForbidden
	case errors.Is(err, planner.ErrUpstreamUnavailable),
		errors.Is(err, calendar.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("[HTTP] request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var rejection *schedule.RejectionError
	if errors.As(err, &rejection) {
		body["rejection"] = rejection.Rejection
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
