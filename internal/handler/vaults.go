package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"calc/internal/models"
	"calc/internal/repository"
	"calc/internal/service"
)

type VaultHandler struct {
	Vaults   *service.VaultService
	Executor *service.TriggerExecutor
	Logger   *zap.Logger
}

func (h *VaultHandler) Register(r *gin.Engine) {
	group := r.Group("/api/vaults")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/:id/events", h.listEvents)
	group.POST("/:id/deposit", h.deposit)
	group.POST("/:id/cancel", h.cancel)
	group.PUT("/:id/label", h.updateLabel)
	group.POST("/:id/execute", h.executeTrigger)
}

type destinationRequest struct {
	Address    string `json:"address"`
	Allocation string `json:"allocation"`
	Callback   string `json:"callback,omitempty"`
}

type createVaultRequest struct {
	Label                string               `json:"label"`
	PairAddress          string               `json:"pair_address"`
	BaseDenom            string               `json:"base_denom"`
	QuoteDenom           string               `json:"quote_denom"`
	SwapDenom            string               `json:"swap_denom"`
	DepositAmount        string               `json:"deposit_amount"`
	SwapAmount           string               `json:"swap_amount"`
	TimeInterval         string               `json:"time_interval"`
	IntervalSeconds      int64                `json:"interval_seconds,omitempty"`
	SlippageTolerance    *string              `json:"slippage_tolerance,omitempty"`
	MinimumReceiveAmount *string              `json:"minimum_receive_amount,omitempty"`
	Destinations         []destinationRequest `json:"destinations,omitempty"`
	TargetStartTime      *string              `json:"target_start_time,omitempty"`
	TargetPrice          *string              `json:"target_price,omitempty"`
	AdjustmentStrategy   string               `json:"adjustment_strategy,omitempty"`
	ModelID              uint8                `json:"model_id,omitempty"`
	PerformanceStrategy  string               `json:"performance_strategy,omitempty"`
	EscrowLevel          *string              `json:"escrow_level,omitempty"`
}

// @Summary Create a vault
// @Tags vaults
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/vaults [post]
func (h *VaultHandler) create(c *gin.Context) {
	if h.Vaults == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	caller := strings.TrimSpace(callerAccount(c))
	if caller == "" {
		Error(c, http.StatusUnauthorized, "missing account header", nil)
		return
	}
	var req createVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	in, err := createInputFromRequest(caller, req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	vault, err := h.Vaults.CreateVault(c.Request.Context(), in)
	if err != nil {
		ServiceError(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("vault created", zap.Uint64("vault_id", vault.ID), zap.String("owner", caller))
	}
	Ok(c, vault, nil)
}

func createInputFromRequest(caller string, req createVaultRequest) (service.CreateVaultInput, error) {
	in := service.CreateVaultInput{
		Owner:               caller,
		Label:               req.Label,
		PairAddress:         req.PairAddress,
		BaseDenom:           req.BaseDenom,
		QuoteDenom:          req.QuoteDenom,
		SwapDenom:           req.SwapDenom,
		TimeInterval:        req.TimeInterval,
		IntervalSeconds:     req.IntervalSeconds,
		AdjustmentStrategy:  req.AdjustmentStrategy,
		ModelID:             req.ModelID,
		PerformanceStrategy: req.PerformanceStrategy,
	}
	var err error
	if in.DepositAmount, err = parseAmount("deposit_amount", req.DepositAmount); err != nil {
		return in, err
	}
	if in.SwapAmount, err = parseAmount("swap_amount", req.SwapAmount); err != nil {
		return in, err
	}
	if in.SlippageTolerance, err = parseAmountPtr("slippage_tolerance", req.SlippageTolerance); err != nil {
		return in, err
	}
	if in.MinimumReceiveAmount, err = parseAmountPtr("minimum_receive_amount", req.MinimumReceiveAmount); err != nil {
		return in, err
	}
	if in.TargetPrice, err = parseAmountPtr("target_price", req.TargetPrice); err != nil {
		return in, err
	}
	if in.EscrowLevel, err = parseAmountPtr("escrow_level", req.EscrowLevel); err != nil {
		return in, err
	}
	if req.TargetStartTime != nil && strings.TrimSpace(*req.TargetStartTime) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.TargetStartTime))
		if err != nil {
			return in, &service.ValidationError{Field: "target_start_time", Reason: "must be RFC3339"}
		}
		utc := ts.UTC()
		in.TargetStartTime = &utc
	}
	for _, dest := range req.Destinations {
		allocation, err := parseAmount("destinations.allocation", dest.Allocation)
		if err != nil {
			return in, err
		}
		in.Destinations = append(in.Destinations, models.Destination{
			Address:    dest.Address,
			Allocation: allocation,
			Callback:   dest.Callback,
		})
	}
	return in, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, &service.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return v, nil
}

func parseAmountPtr(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v, err := parseAmount(field, *raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// @Summary List vaults
// @Tags vaults
// @Param owner query string false "filter by owner"
// @Param status query string false "filter by status"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} apiResponse
// @Router /api/vaults [get]
func (h *VaultHandler) list(c *gin.Context) {
	if h.Vaults == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListVaultsParams{
		Limit:   limit,
		Offset:  offset,
		OrderBy: "id",
		Asc:     boolPtr(true),
	}
	if owner := strings.TrimSpace(c.Query("owner")); owner != "" {
		params.Owner = &owner
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		params.Status = &status
	}
	items, total, err := h.Vaults.ListVaults(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get a vault
// @Tags vaults
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id} [get]
func (h *VaultHandler) get(c *gin.Context) {
	if h.Vaults == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	vault, err := h.Vaults.GetVault(c.Request.Context(), id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vault, nil)
}

// @Summary List vault events
// @Tags vaults
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/events [get]
func (h *VaultHandler) listEvents(c *gin.Context) {
	if h.Vaults == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Vaults.ListEvents(c.Request.Context(), repository.ListEventsParams{
		ResourceID: id,
		Limit:      limit,
		Offset:     offset,
		Asc:        boolPtr(true),
	})
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type depositRequest struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// @Summary Deposit into a vault
// @Tags vaults
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/deposit [post]
func (h *VaultHandler) deposit(c *gin.Context) {
	if h.Vaults == nil {
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
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		ServiceError(c, err)
		return
	}
	vault, err := h.Vaults.Deposit(c.Request.Context(), caller, id, req.Denom, amount)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vault, nil)
}

// @Summary Cancel a vault and refund its balance
// @Tags vaults
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/cancel [post]
func (h *VaultHandler) cancel(c *gin.Context) {
	if h.Vaults == nil {
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
	vault, err := h.Vaults.CancelVault(c.Request.Context(), caller, id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vault, nil)
}

type updateLabelRequest struct {
	Label string `json:"label"`
}

// @Summary Update a vault label
// @Tags vaults
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/label [put]
func (h *VaultHandler) updateLabel(c *gin.Context) {
	if h.Vaults == nil {
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
	var req updateLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	vault, err := h.Vaults.UpdateLabel(c.Request.Context(), caller, id, req.Label)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vault, nil)
}

// @Summary Execute a vault's pending trigger
// @Description Public surface: any caller may fire a trigger whose
// condition holds. Not-ready and missing triggers are rejected without
// side effects.
// @Tags vaults
// @Success 200 {object} apiResponse
// @Router /api/vaults/{id}/execute [post]
func (h *VaultHandler) executeTrigger(c *gin.Context) {
	if h.Executor == nil {
		Error(c, http.StatusInternalServerError, "executor unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if err := h.Executor.ExecuteTrigger(c.Request.Context(), id); err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, map[string]any{"id": id, "executed": true}, nil)
}
