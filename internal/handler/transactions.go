package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"swarmtrade/internal/repository"
)

type TransactionHandler struct {
	Repo repository.Repository
}

func (h *TransactionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/transactions")
	g.GET("", h.list)
}

// @Summary List realized-PnL ledger entries
// @Tags transactions
// @Success 200 {object} apiResponse
// @Router /api/v1/transactions [get]
func (h *TransactionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListTransactions(c.Request.Context(), repository.ListTransactionsParams{
		Limit:   limit,
		Offset:  offset,
		FlowID:  uint64QueryPtr(c, "flow_id"),
		Since:   timeQueryPtr(c, "since"),
		Until:   timeQueryPtr(c, "until"),
		OrderBy: "closed_at",
		Asc:     orderDirection(c),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}
