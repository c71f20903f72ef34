package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// PortfolioSnapshotService records the hourly equity curve. Snapshots are
// keyed by the truncated hour, so a restarted instance never writes a
// duplicate row.
type PortfolioSnapshotService struct {
	Repo     repository.Repository
	Logger   *zap.Logger
	Settings *SystemSettingsService
}

func (s *PortfolioSnapshotService) Snapshot(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Settings != nil && !s.Settings.IsEnabled(ctx, FeaturePortfolioSnapshot, true) {
		return nil
	}

	summary, err := s.Repo.PositionsSummary(ctx)
	if err != nil {
		return err
	}
	item := &models.PortfolioSnapshot{
		SnapshotAt:    time.Now().UTC().Truncate(time.Hour),
		OpenPositions: int(summary.OpenPositions),
		TotalNotional: decimal.NewFromFloat(summary.TotalNotional),
		UnrealizedPnL: decimal.NewFromFloat(summary.UnrealizedPnL),
		RealizedPnL:   decimal.NewFromFloat(summary.RealizedPnL),
	}
	if err := s.Repo.InsertPortfolioSnapshot(ctx, item); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("portfolio snapshot recorded",
			zap.Time("snapshot_at", item.SnapshotAt),
			zap.Int("open_positions", item.OpenPositions),
			zap.String("unrealized_pnl", item.UnrealizedPnL.StringFixed(2)))
	}
	return nil
}
