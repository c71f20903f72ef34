package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"swarmtrade/internal/monitor"
	"swarmtrade/internal/repository"
)

type PositionHandler struct {
	Repo    repository.Repository
	Monitor *monitor.Service
}

func (h *PositionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/positions")
	g.GET("", h.list)
	g.GET("/summary", h.summary)
	g.GET("/:id", h.get)
	g.POST("/:id/close", h.close)

	portfolio := r.Group("/api/v1/portfolio")
	portfolio.GET("/history", h.history)
}

// @Summary List positions
// @Tags positions
// @Success 200 {object} apiResponse
// @Router /api/v1/positions [get]
func (h *PositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := parseOrder(c.Query("order_by"), map[string]string{
		"unrealized_pnl": "unrealized_pnl",
		"realized_pnl":   "realized_pnl",
		"opened_at":      "opened_at",
	})
	if orderBy == "" {
		orderBy = "opened_at"
	}
	params := repository.ListPositionsParams{
		Limit:   limit,
		Offset:  offset,
		FlowID:  uint64QueryPtr(c, "flow_id"),
		Symbol:  strQueryPtr(c, "symbol"),
		Status:  strQueryPtr(c, "status"),
		OrderBy: orderBy,
		Asc:     orderDirection(c),
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get position
// @Tags positions
// @Success 200 {object} apiResponse
// @Router /api/v1/positions/{id} [get]
func (h *PositionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetPositionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Close a position at market
// @Tags positions
// @Success 200 {object} apiResponse
// @Router /api/v1/positions/{id}/close [post]
func (h *PositionHandler) close(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Monitor.ClosePosition(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Open position totals
// @Tags positions
// @Success 200 {object} apiResponse
// @Router /api/v1/positions/summary [get]
func (h *PositionHandler) summary(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	out, err := h.Repo.PositionsSummary(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}

// @Summary Portfolio snapshot history
// @Tags positions
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolio/history [get]
func (h *PositionHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 168)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), repository.ListPortfolioSnapshotsParams{
		Limit:  limit,
		Offset: offset,
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}
