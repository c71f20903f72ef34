package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"swarmtrade/internal/executor"
	"swarmtrade/internal/repository"
)

type OrderHandler struct {
	Repo repository.Repository
	Exec *executor.Service
}

func (h *OrderHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/orders")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/fills", h.fills)
	g.POST("/:id/cancel", h.cancel)
}

// @Summary List orders
// @Tags orders
// @Success 200 {object} apiResponse
// @Router /api/v1/orders [get]
func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOrdersParams{
		Limit:       limit,
		Offset:      offset,
		ExecutionID: strQueryPtr(c, "execution_id"),
		PositionID:  uint64QueryPtr(c, "position_id"),
		Symbol:      strQueryPtr(c, "symbol"),
		Status:      strQueryPtr(c, "status"),
		OrderBy:     "created_at",
		Asc:         orderDirection(c),
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get order
// @Tags orders
// @Success 200 {object} apiResponse
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Cancel a working order
// @Tags orders
// @Success 200 {object} apiResponse
// @Router /api/v1/orders/{id}/cancel [post]
func (h *OrderHandler) cancel(c *gin.Context) {
	if h.Repo == nil || h.Exec == nil {
		Error(c, http.StatusInternalServerError, "executor unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	order, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if order == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	if err := h.Exec.Cancel(c.Request.Context(), order); err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, order, nil)
}

// @Summary List fills for an order
// @Tags orders
// @Success 200 {object} apiResponse
// @Router /api/v1/orders/{id}/fills [get]
func (h *OrderHandler) fills(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListFillsByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
