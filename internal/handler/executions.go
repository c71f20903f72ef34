package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"swarmtrade/internal/repository"
)

type ExecutionHandler struct {
	Repo repository.Repository
}

func (h *ExecutionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/executions")
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

// @Summary List executions
// @Tags executions
// @Success 200 {object} apiResponse
// @Router /api/v1/executions [get]
func (h *ExecutionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListExecutionsParams{
		Limit:   limit,
		Offset:  offset,
		FlowID:  uint64QueryPtr(c, "flow_id"),
		Status:  strQueryPtr(c, "status"),
		Since:   timeQueryPtr(c, "since"),
		OrderBy: "started_at",
		Asc:     orderDirection(c),
	}
	items, err := h.Repo.ListExecutions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountExecutions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get execution with its decision trail
// @Tags executions
// @Success 200 {object} apiResponse
// @Router /api/v1/executions/{id} [get]
func (h *ExecutionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetExecutionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "execution not found", nil)
		return
	}
	Ok(c, item, nil)
}
