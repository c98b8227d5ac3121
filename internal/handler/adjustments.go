package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"calc/internal/service"
)

type AdjustmentHandler struct {
	Adjustments *service.AdjustmentService
}

func (h *AdjustmentHandler) Register(r *gin.Engine) {
	group := r.Group("/api/swap-adjustments")
	group.GET("", h.list)
	group.GET("/:position_type/:model_id", h.get)
	group.PUT("/:position_type/:model_id", h.update)
}

// @Summary List swap adjustment multipliers
// @Tags adjustments
// @Success 200 {object} apiResponse
// @Router /api/swap-adjustments [get]
func (h *AdjustmentHandler) list(c *gin.Context) {
	if h.Adjustments == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	items, err := h.Adjustments.ListSwapAdjustments(c.Request.Context())
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, nil)
}

// @Summary Get a swap adjustment multiplier
// @Tags adjustments
// @Success 200 {object} apiResponse
// @Router /api/swap-adjustments/{position_type}/{model_id} [get]
func (h *AdjustmentHandler) get(c *gin.Context) {
	if h.Adjustments == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	modelID, ok := modelIDParam(c)
	if !ok {
		return
	}
	item, err := h.Adjustments.GetSwapAdjustment(c.Request.Context(), c.Param("position_type"), modelID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, item, nil)
}

type updateAdjustmentRequest struct {
	Multiplier string `json:"multiplier"`
}

// @Summary Publish a swap adjustment multiplier (admin only)
// @Tags adjustments
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/swap-adjustments/{position_type}/{model_id} [put]
func (h *AdjustmentHandler) update(c *gin.Context) {
	if h.Adjustments == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	modelID, ok := modelIDParam(c)
	if !ok {
		return
	}
	var req updateAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	multiplier, err := parseAmount("multiplier", req.Multiplier)
	if err != nil {
		ServiceError(c, err)
		return
	}
	item, err := h.Adjustments.UpdateSwapAdjustment(c.Request.Context(), callerAccount(c), c.Param("position_type"), modelID, multiplier)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, item, nil)
}

func modelIDParam(c *gin.Context) (uint8, bool) {
	raw := c.Param("model_id")
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid model_id", nil)
		return 0, false
	}
	return uint8(v), true
}
