package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"calc/internal/service"
)

type EscrowHandler struct {
	Escrow *service.EscrowService
	Logger *zap.Logger
}

func (h *EscrowHandler) Register(r *gin.Engine) {
	group := r.Group("/api/vaults")
	group.POST("/:id/escrow/disburse", h.disburse)
	group.POST("/:id/escrow/claim", h.claim)
	group.GET("/:id/performance", h.performance)
	r.GET("/api/escrow/tasks", h.listTasks)
}

// @Summary Disburse a finished vault's escrow
// @Description Public surface: once both the vault and its standard
// counterpart have run dry, anyone may settle the escrow. The performance
// fee goes to the fee collector, the remainder to the owner.
// @Tags escrow
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/escrow/disburse [post]
func (h *EscrowHandler) disburse(c *gin.Context) {
	if h.Escrow == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	perf, err := h.Escrow.DisburseEscrow(c.Request.Context(), id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("escrow disbursed via api", zap.Uint64("vault_id", id))
	}
	Ok(c, perf, nil)
}

// @Summary Claim escrowed funds without a performance comparison
// @Tags escrow
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/escrow/claim [post]
func (h *EscrowHandler) claim(c *gin.Context) {
	if h.Escrow == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	caller := strings.TrimSpace(callerAccount(c))
	if caller == "" {
		Error(c, http.StatusUnauthorized, "missing account header", nil)
		return
	}
	vault, err := h.Escrow.ClaimEscrowedFunds(c.Request.Context(), caller, id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vault, nil)
}

// @Summary Preview a vault's performance fee and factor
// @Tags escrow
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/performance [get]
func (h *EscrowHandler) performance(c *gin.Context) {
	if h.Escrow == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	perf, err := h.Escrow.GetPerformance(c.Request.Context(), id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, perf, nil)
}

// @Summary List vaults whose escrow is releasable now
// @Tags escrow
// @Param limit query int false "page size"
// @Success 200 {object} apiResponse
// @Router /api/escrow/tasks [get]
func (h *EscrowHandler) listTasks(c *gin.Context) {
	if h.Escrow == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	tasks, err := h.Escrow.ListDisburseEscrowTasks(c.Request.Context(), limit)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, tasks, nil)
}
