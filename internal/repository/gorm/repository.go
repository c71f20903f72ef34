package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Flows ------------------------------------------------------------------

func (s *Store) InsertFlow(ctx context.Context, item *models.Flow) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetFlowByID(ctx context.Context, id uint64) (*models.Flow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Flow
	err := s.db.WithContext(ctx).Model(&models.Flow{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListFlows(ctx context.Context, params repository.ListFlowsParams) ([]models.Flow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.flowQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Flow
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountFlows(ctx context.Context, params repository.ListFlowsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.flowQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) flowQuery(ctx context.Context, params repository.ListFlowsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Flow{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Enabled != nil {
		query = query.Where("enabled = ?", *params.Enabled)
	}
	return query
}

func (s *Store) UpdateFlowConfig(ctx context.Context, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.Flow{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) SetFlowEnabled(ctx context.Context, id uint64, enabled bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Flow{}).
		Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()}).
		Error
}

func (s *Store) IncrementFlowStats(ctx context.Context, id uint64, delta repository.FlowStatsDelta) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if delta.TotalExecutions != 0 {
		updates["total_executions"] = gorm.Expr("total_executions + ?", delta.TotalExecutions)
	}
	if delta.SuccessfulExecutions != 0 {
		updates["successful_executions"] = gorm.Expr("successful_executions + ?", delta.SuccessfulExecutions)
	}
	if !delta.RealizedPnL.IsZero() {
		updates["realized_pnl"] = gorm.Expr("realized_pnl + ?", delta.RealizedPnL)
	}
	if delta.Wins != 0 {
		updates["win_count"] = gorm.Expr("win_count + ?", delta.Wins)
	}
	if delta.Losses != 0 {
		updates["loss_count"] = gorm.Expr("loss_count + ?", delta.Losses)
	}
	return s.db.WithContext(ctx).
		Model(&models.Flow{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) ListSchedulableFlows(ctx context.Context) ([]models.Flow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Flow
	err := s.db.WithContext(ctx).
		Model(&models.Flow{}).
		Where("enabled = ?", true).
		Where("trigger_type IN ?", []string{models.TriggerScheduled, models.TriggerLoop}).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Executions -------------------------------------------------------------

func (s *Store) InsertExecution(ctx context.Context, item *models.Execution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Execution
	err := s.db.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.executionQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Execution
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.executionQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) executionQuery(ctx context.Context, params repository.ListExecutionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if params.FlowID != nil && *params.FlowID > 0 {
		query = query.Where("flow_id = ?", *params.FlowID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) FinishExecution(ctx context.Context, id string, status string, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = strings.TrimSpace(status)
	updates["updated_at"] = time.Now().UTC()
	// Guarded by status so a second finish on the same execution is a no-op.
	return s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Where("status = ?", models.ExecutionRunning).
		Updates(updates).Error
}

func (s *Store) UpdateExecutionDecisions(ctx context.Context, id string, decisions []byte, totalCost decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"decisions":  decisions,
			"total_cost": totalCost,
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- Orders -----------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	exchangeOrderID = strings.TrimSpace(exchangeOrderID)
	if exchangeOrderID == "" {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("exchange_order_id = ?", exchangeOrderID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.orderQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.orderQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) orderQuery(ctx context.Context, params repository.ListOrdersParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if params.ExecutionID != nil && strings.TrimSpace(*params.ExecutionID) != "" {
		query = query.Where("execution_id = ?", strings.TrimSpace(*params.ExecutionID))
	}
	if params.PositionID != nil && *params.PositionID > 0 {
		query = query.Where("position_id = ?", *params.PositionID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListOrdersByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Order
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status IN ?", statuses).
		Order("created_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = strings.TrimSpace(status)
	updates["updated_at"] = time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) SaveOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

// --- Fills ------------------------------------------------------------------

func (s *Store) InsertFillOnce(ctx context.Context, item *models.Fill) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "fill_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListFillsByOrderID(ctx context.Context, orderID uint64) ([]models.Fill, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if orderID == 0 {
		return nil, nil
	}
	var items []models.Fill
	err := s.db.WithContext(ctx).
		Model(&models.Fill{}).
		Where("order_id = ?", orderID).
		Order("filled_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Positions --------------------------------------------------------------

func (s *Store) InsertPosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetPositionByID(ctx context.Context, id uint64) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).Model(&models.Position{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOpenPositionByFlowSymbol(ctx context.Context, flowID uint64, symbol string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	if flowID == 0 || symbol == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("flow_id = ?", flowID).
		Where("symbol = ?", symbol).
		Where("status IN ?", []string{models.PositionOpening, models.PositionOpen, models.PositionClosing}).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.positionQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.positionQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) positionQuery(ctx context.Context, params repository.ListPositionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.FlowID != nil && *params.FlowID > 0 {
		query = query.Where("flow_id = ?", *params.FlowID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("status IN ?", []string{models.PositionOpen, models.PositionClosing}).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdatePositionStatus(ctx context.Context, id uint64, from, to string) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	// Compare-and-swap on status so concurrent close attempts race safely;
	// exactly one caller observes RowsAffected == 1.
	res := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ?", id).
		Where("status = ?", from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- Transactions -----------------------------------------------------------

func (s *Store) InsertTransaction(ctx context.Context, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Transaction{})
	if params.FlowID != nil && *params.FlowID > 0 {
		query = query.Where("flow_id = ?", *params.FlowID)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("closed_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("closed_at < ?", *params.Until)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "closed_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Transaction
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var out struct {
		Total decimal.Decimal
	}
	query := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(pnl), 0) AS total")
	if !since.IsZero() {
		query = query.Where("closed_at >= ?", since)
	}
	if err := query.Scan(&out).Error; err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

// --- Portfolio snapshots ----------------------------------------------------

func (s *Store) PositionsSummary(ctx context.Context) (repository.PortfolioSummary, error) {
	var summary repository.PortfolioSummary
	if s == nil || s.db == nil {
		return summary, nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Select(
			"COUNT(*) AS open_positions, " +
				"COALESCE(SUM(entry_price * quantity), 0) AS total_notional, " +
				"COALESCE(SUM(unrealized_pnl), 0) AS unrealized_pn_l").
		Where("status = ?", models.PositionOpen).
		Scan(&summary).Error
	if err != nil {
		return repository.PortfolioSummary{}, err
	}
	realized, err := s.SumRealizedPnLSince(ctx, time.Time{})
	if err != nil {
		return repository.PortfolioSummary{}, err
	}
	summary.RealizedPnL, _ = realized.Float64()
	return summary, nil
}

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "snapshot_at"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil {
		query = query.Where("snapshot_at >= ?", params.Since.UTC())
	}
	if params.Until != nil {
		query = query.Where("snapshot_at < ?", params.Until.UTC())
	}
	var items []models.PortfolioSnapshot
	err := query.
		Order("snapshot_at DESC").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
