package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"swarmtrade/internal/flow"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

type FlowHandler struct {
	Repo repository.Repository
	Orch *flow.Orchestrator
}

func (h *FlowHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/flows")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.POST("/:id/enable", h.enable)
	g.POST("/:id/disable", h.disable)
	g.POST("/:id/execute", h.execute)
}

type createFlowRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
	Mode   string `json:"mode"`

	SwarmRuns          int    `json:"swarm_runs"`
	MinAgreement       int    `json:"min_agreement"`
	DecisionModel      string `json:"decision_model"`
	ConflictResolution string `json:"conflict_resolution"`

	RiskWarningThreshold float64 `json:"risk_warning_threshold"`
	RiskReducePercent    float64 `json:"risk_reduce_percent"`

	OrderSizeUSD decimal.Decimal `json:"order_size_usd" binding:"required"`
	Leverage     int             `json:"leverage"`

	StopLossPct          float64 `json:"stop_loss_pct"`
	TakeProfitPct        float64 `json:"take_profit_pct"`
	TrailingEnabled      bool    `json:"trailing_enabled"`
	TrailingDistPct      float64 `json:"trailing_dist_pct"`
	TrailingActivatePct  float64 `json:"trailing_activate_pct"`
	BreakEvenActivatePct float64 `json:"break_even_activate_pct"`

	TriggerType  string `json:"trigger_type"`
	CronSpec     string `json:"cron_spec"`
	LoopDelaySec int    `json:"loop_delay_sec"`

	AllowConcurrentPositions bool `json:"allow_concurrent_positions"`
}

// @Summary Create flow
// @Tags flows
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/v1/flows [post]
func (h *FlowHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	item, err := flowFromRequest(req)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.InsertFlow(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func flowFromRequest(req createFlowRequest) (*models.Flow, error) {
	mode := strings.TrimSpace(strings.ToLower(req.Mode))
	if mode == "" {
		mode = models.ModeSwarm
	}
	if mode != models.ModeSolo && mode != models.ModeSwarm {
		return nil, errors.New("mode must be solo or swarm")
	}
	trigger := strings.TrimSpace(strings.ToLower(req.TriggerType))
	if trigger == "" {
		trigger = models.TriggerManual
	}
	switch trigger {
	case models.TriggerManual, models.TriggerScheduled, models.TriggerLoop:
	default:
		return nil, errors.New("trigger_type must be manual, scheduled or loop")
	}
	if trigger == models.TriggerScheduled && strings.TrimSpace(req.CronSpec) == "" {
		return nil, errors.New("cron_spec required for scheduled flows")
	}
	resolution := strings.TrimSpace(strings.ToLower(req.ConflictResolution))
	if resolution == "" {
		resolution = models.ResolvePreferHold
	}
	if resolution != models.ResolvePreferHold && resolution != models.ResolveMajorityConfidence {
		return nil, errors.New("unknown conflict_resolution")
	}
	if !req.OrderSizeUSD.IsPositive() {
		return nil, errors.New("order_size_usd must be positive")
	}

	item := &models.Flow{
		UserID:                   strings.TrimSpace(req.UserID),
		Name:                     strings.TrimSpace(req.Name),
		Symbol:                   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Mode:                     mode,
		SwarmRuns:                req.SwarmRuns,
		MinAgreement:             req.MinAgreement,
		DecisionModel:            strings.TrimSpace(req.DecisionModel),
		ConflictResolution:       resolution,
		RiskWarningThreshold:     req.RiskWarningThreshold,
		RiskReducePercent:        req.RiskReducePercent,
		OrderSizeUSD:             req.OrderSizeUSD,
		Leverage:                 req.Leverage,
		StopLossPct:              req.StopLossPct,
		TakeProfitPct:            req.TakeProfitPct,
		TrailingEnabled:          req.TrailingEnabled,
		TrailingDistPct:          req.TrailingDistPct,
		TrailingActivatePct:      req.TrailingActivatePct,
		BreakEvenActivatePct:     req.BreakEvenActivatePct,
		TriggerType:              trigger,
		CronSpec:                 strings.TrimSpace(req.CronSpec),
		LoopDelay:                time.Duration(req.LoopDelaySec) * time.Second,
		AllowConcurrentPositions: req.AllowConcurrentPositions,
		Enabled:                  true,
	}
	if item.SwarmRuns <= 0 {
		item.SwarmRuns = 3
	}
	if item.MinAgreement <= 0 {
		item.MinAgreement = 50
	}
	if item.Leverage <= 0 {
		item.Leverage = 1
	}
	return item, nil
}

// @Summary List flows
// @Tags flows
// @Success 200 {object} apiResponse
// @Router /api/v1/flows [get]
func (h *FlowHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := parseOrder(c.Query("order_by"), map[string]string{
		"created_at":   "created_at",
		"realized_pnl": "realized_pnl",
		"name":         "name",
	})
	params := repository.ListFlowsParams{
		Limit:   limit,
		Offset:  offset,
		UserID:  strQueryPtr(c, "user_id"),
		Symbol:  strQueryPtr(c, "symbol"),
		Enabled: boolQueryPtr(c, "enabled"),
		OrderBy: orderBy,
		Asc:     orderDirection(c),
	}
	items, err := h.Repo.ListFlows(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountFlows(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get flow
// @Tags flows
// @Success 200 {object} apiResponse
// @Router /api/v1/flows/{id} [get]
func (h *FlowHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetFlowByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "flow not found", nil)
		return
	}
	Ok(c, map[string]any{
		"flow":     item,
		"win_rate": item.WinRate(),
	}, nil)
}

// updatableFlowColumns whitelists what PUT can touch; identity, trigger
// wiring and aggregate stats are immutable through this endpoint.
var updatableFlowColumns = map[string]bool{
	"name":                       true,
	"mode":                       true,
	"swarm_runs":                 true,
	"min_agreement":              true,
	"decision_model":             true,
	"conflict_resolution":        true,
	"risk_warning_threshold":     true,
	"risk_reduce_percent":        true,
	"order_size_usd":             true,
	"leverage":                   true,
	"stop_loss_pct":              true,
	"take_profit_pct":            true,
	"trailing_enabled":           true,
	"trailing_dist_pct":          true,
	"trailing_activate_pct":      true,
	"break_even_activate_pct":    true,
	"cron_spec":                  true,
	"loop_delay":                 true,
	"allow_concurrent_positions": true,
}

// @Summary Update flow configuration
// @Tags flows
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/v1/flows/{id} [put]
func (h *FlowHandler) update(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	updates := map[string]any{}
	for key, value := range body {
		if updatableFlowColumns[key] {
			updates[key] = value
		}
	}
	if len(updates) == 0 {
		Error(c, http.StatusBadRequest, "no updatable fields", nil)
		return
	}
	if err := h.Repo.UpdateFlowConfig(c.Request.Context(), id, updates); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Repo.GetFlowByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *FlowHandler) enable(c *gin.Context)  { h.setEnabled(c, true) }
func (h *FlowHandler) disable(c *gin.Context) { h.setEnabled(c, false) }

func (h *FlowHandler) setEnabled(c *gin.Context, enabled bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if err := h.Repo.SetFlowEnabled(c.Request.Context(), id, enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "enabled": enabled}, nil)
}

// @Summary Trigger a manual flow run
// @Tags flows
// @Success 200 {object} apiResponse
// @Router /api/v1/flows/{id}/execute [post]
func (h *FlowHandler) execute(c *gin.Context) {
	if h.Repo == nil || h.Orch == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetFlowByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "flow not found", nil)
		return
	}

	exec, err := h.Orch.Execute(c.Request.Context(), item, models.TriggerManual)
	switch {
	case err == nil:
		Ok(c, exec, nil)
	case errors.Is(err, flow.ErrFlowBusy):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, flow.ErrPositionOpen):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, flow.ErrFlowDisabled), errors.Is(err, flow.ErrTradingPaused):
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		// The execution record carries the failure detail.
		if exec != nil {
			Error(c, http.StatusBadGateway, err.Error(), map[string]any{"execution_id": exec.ID})
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
