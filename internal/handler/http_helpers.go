package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/carelog/internal/service"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// respondServiceError 把服务层的哨兵错误映射为对应的 HTTP 状态码
func respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrReminderNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSnoozeOutOfRange),
		errors.Is(err, service.ErrInvalidScheduledTime),
		errors.Is(err, service.ErrReminderInvalid),
		errors.Is(err, service.ErrEventLogInvalid),
		errors.Is(err, service.ErrInsightInvalid):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSchedulingFailed):
		respondError(c, http.StatusBadGateway, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}
