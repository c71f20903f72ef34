package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"swarmtrade/internal/models"
)

// Repository is the persistence boundary for the trading pipeline. Cross-
// component references (position→flow, order→position) are ids resolved
// through these lookups, never embedded pointers.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Flows
	InsertFlow(ctx context.Context, item *models.Flow) error
	GetFlowByID(ctx context.Context, id uint64) (*models.Flow, error)
	ListFlows(ctx context.Context, params ListFlowsParams) ([]models.Flow, error)
	CountFlows(ctx context.Context, params ListFlowsParams) (int64, error)
	UpdateFlowConfig(ctx context.Context, id uint64, updates map[string]any) error
	SetFlowEnabled(ctx context.Context, id uint64, enabled bool) error
	// IncrementFlowStats applies the deltas with a single atomic UPDATE so
	// concurrent closes never lose counts.
	IncrementFlowStats(ctx context.Context, id uint64, delta FlowStatsDelta) error
	ListSchedulableFlows(ctx context.Context) ([]models.Flow, error)

	// Executions
	InsertExecution(ctx context.Context, item *models.Execution) error
	GetExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)
	CountExecutions(ctx context.Context, params ListExecutionsParams) (int64, error)
	// FinishExecution sets the terminal status; it is a no-op if the
	// execution already left the running state.
	FinishExecution(ctx context.Context, id string, status string, updates map[string]any) error
	UpdateExecutionDecisions(ctx context.Context, id string, decisions []byte, totalCost decimal.Decimal) error

	// Orders
	InsertOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListOrdersByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error
	SaveOrder(ctx context.Context, item *models.Order) error

	// Fills. InsertFillOnce returns false when (order_id, fill_id) was
	// already recorded, which is how redelivered fills become no-ops.
	InsertFillOnce(ctx context.Context, item *models.Fill) (bool, error)
	ListFillsByOrderID(ctx context.Context, orderID uint64) ([]models.Fill, error)

	// Positions
	InsertPosition(ctx context.Context, item *models.Position) error
	GetPositionByID(ctx context.Context, id uint64) (*models.Position, error)
	GetOpenPositionByFlowSymbol(ctx context.Context, flowID uint64, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	SavePosition(ctx context.Context, item *models.Position) error
	UpdatePositionStatus(ctx context.Context, id uint64, from, to string) (bool, error)

	// Transactions
	InsertTransaction(ctx context.Context, item *models.Transaction) error
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error)

	// Portfolio snapshots
	PositionsSummary(ctx context.Context) (PortfolioSummary, error)
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

// FlowStatsDelta carries the per-completion / per-close increments.
type FlowStatsDelta struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	RealizedPnL          decimal.Decimal
	Wins                 int64
	Losses               int64
}

type ListFlowsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Symbol  *string
	Enabled *bool
	OrderBy string
	Asc     *bool
}

type ListExecutionsParams struct {
	Limit   int
	Offset  int
	FlowID  *uint64
	Status  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type ListOrdersParams struct {
	Limit       int
	Offset      int
	ExecutionID *string
	PositionID  *uint64
	Symbol      *string
	Status      *string
	OrderBy     string
	Asc         *bool
}

type ListPositionsParams struct {
	Limit   int
	Offset  int
	FlowID  *uint64
	Symbol  *string
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListTransactionsParams struct {
	Limit   int
	Offset  int
	FlowID  *uint64
	Since   *time.Time
	Until   *time.Time
	OrderBy string
	Asc     *bool
}

type ListPortfolioSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PortfolioSummary aggregates open positions for snapshots and handlers.
type PortfolioSummary struct {
	OpenPositions int64
	TotalNotional float64
	UnrealizedPnL float64
	RealizedPnL   float64
}
