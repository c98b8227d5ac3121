package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"calc/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ServiceError maps the service layer's error taxonomy onto HTTP statuses.
func ServiceError(c *gin.Context, err error) {
	var vErr *service.ValidationError
	var venueErr *service.VenueError
	switch {
	case errors.As(err, &vErr):
		Error(c, http.StatusBadRequest, vErr.Error(), map[string]any{"field": vErr.Field})
	case errors.Is(err, service.ErrUnauthorized):
		Error(c, http.StatusForbidden, "caller is not the vault owner", nil)
	case errors.Is(err, service.ErrNotFound):
		Error(c, http.StatusNotFound, "not found", nil)
	case errors.Is(err, service.ErrNotReady):
		Error(c, http.StatusConflict, "not ready", nil)
	case errors.Is(err, service.ErrNothingToDisburse):
		Error(c, http.StatusConflict, "nothing to disburse", nil)
	case errors.As(err, &venueErr):
		Error(c, http.StatusBadGateway, venueErr.Error(), nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}

// callerAccount is the authenticated account the gateway injects. Owner
// checks in the service layer run against it.
func callerAccount(c *gin.Context) string {
	return c.GetHeader("X-Calc-Account")
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func uint64Param(c *gin.Context, key string) uint64 {
	raw := c.Param(key)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func boolPtr(v bool) *bool { return &v }

func paginationMeta(limit, offset int, total int64) map[string]any {
	return map[string]any{
		"limit":  limit,
		"offset": offset,
		"total":  total,
	}
}
