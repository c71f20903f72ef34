package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/config"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// Assessor is the AI stage of the gate; satisfied by *agent.Client.
type Assessor interface {
	AssessRisk(ctx context.Context, model, input string) (agent.RiskAssessment, agent.Usage, error)
}

// Result is the gate's verdict. Action is hold whenever Allowed is false.
type Result struct {
	Allowed bool
	Action  string
	SizeUSD decimal.Decimal

	// WarningAction is "reduce_size" when stage 3 shrank the order. It is
	// a warning, not a rejection.
	WarningAction string

	RiskScore  float64
	Confidence float64
	Reasoning  string

	Trail []models.AgentDecision
	Usage agent.Usage
}

// Gate runs a proposed trade through three stages: deterministic hard
// limits, an AI risk assessment, and a size-reduction warning band. Stage 1
// short-circuits so rejected trades never spend tokens.
type Gate struct {
	Logger   *zap.Logger
	Repo     repository.Repository
	Assessor Assessor
	Cfg      config.RiskConfig

	mu             sync.Mutex
	exposureCache  Exposure
	lastExposureAt time.Time
}

const exposureCacheTTL = 5 * time.Second

func (g *Gate) Evaluate(ctx context.Context, flow *models.Flow, p Proposal) (Result, error) {
	if g == nil || g.Repo == nil {
		return Result{}, fmt.Errorf("risk gate not configured")
	}
	if flow == nil {
		return Result{}, fmt.Errorf("nil flow")
	}

	// Stage 1: hard limits.
	exp, err := g.exposure(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("exposure snapshot: %w", err)
	}
	if err := CheckHardLimits(g.Cfg, exp, p); err != nil {
		if g.Logger != nil {
			g.Logger.Info("risk: hard limit rejection",
				zap.Uint64("flow_id", flow.ID),
				zap.String("symbol", p.Symbol),
				zap.String("reason", err.Error()))
		}
		return Result{
			Action:    models.ActionHold,
			Reasoning: "hard limit: " + err.Error(),
		}, nil
	}

	// Stage 2: AI assessment.
	model := strings.TrimSpace(g.Cfg.RiskModel)
	if model == "" {
		model = flow.DecisionModel
	}
	assessment, usage, err := g.assess(ctx, model, exp, p)
	trail := []models.AgentDecision{{
		Role:       "risk",
		Approved:   &assessment.Approved,
		RiskScore:  assessment.RiskScore,
		Confidence: assessment.Confidence,
		Reasoning:  assessment.Reasoning,
		TokensUsed: usage.TotalTokens(),
		CostUSD:    usage.CostUSD,
		DecidedAt:  time.Now().UTC(),
	}}
	if err != nil {
		// No assessment means no trade.
		trail[0].Error = err.Error()
		trail[0].Approved = nil
		if g.Logger != nil {
			g.Logger.Warn("risk: assessment failed",
				zap.Uint64("flow_id", flow.ID),
				zap.Error(err))
		}
		return Result{
			Action:    models.ActionHold,
			Reasoning: "risk assessment unavailable: " + err.Error(),
			Trail:     trail,
			Usage:     usage,
		}, nil
	}
	if !assessment.Approved {
		return Result{
			Action:     models.ActionHold,
			RiskScore:  assessment.RiskScore,
			Confidence: p.Confidence * assessment.Confidence,
			Reasoning:  "risk rejected: " + assessment.Reasoning,
			Trail:      trail,
			Usage:      usage,
		}, nil
	}

	// Stage 3: warning band. High score with approval shrinks the order
	// instead of blocking it.
	size := p.SizeUSD
	warning := ""
	threshold := flow.RiskWarningThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	if assessment.RiskScore >= threshold {
		reduce := flow.RiskReducePercent
		if reduce <= 0 {
			reduce = 30
		}
		size = ReduceSize(size, reduce)
		warning = "reduce_size"
		if g.Logger != nil {
			g.Logger.Info("risk: size reduced",
				zap.Uint64("flow_id", flow.ID),
				zap.Float64("risk_score", assessment.RiskScore),
				zap.String("size_before", p.SizeUSD.StringFixed(2)),
				zap.String("size_after", size.StringFixed(2)))
		}
	}

	return Result{
		Allowed:       true,
		Action:        p.Action,
		SizeUSD:       size,
		WarningAction: warning,
		RiskScore:     assessment.RiskScore,
		Confidence:    p.Confidence * assessment.Confidence,
		Reasoning:     assessment.Reasoning,
		Trail:         trail,
		Usage:         usage,
	}, nil
}

func (g *Gate) assess(ctx context.Context, model string, exp Exposure, p Proposal) (agent.RiskAssessment, agent.Usage, error) {
	if g.Assessor == nil {
		return agent.RiskAssessment{}, agent.Usage{}, fmt.Errorf("no assessor configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "proposed trade:\n")
	fmt.Fprintf(&b, "symbol: %s action: %s\n", p.Symbol, p.Action)
	fmt.Fprintf(&b, "size_usd: %s leverage: %d\n", p.SizeUSD.StringFixed(2), p.Leverage)
	fmt.Fprintf(&b, "price: %s\n", p.Price.String())
	fmt.Fprintf(&b, "analysis_confidence: %.2f\n", p.Confidence)
	fmt.Fprintf(&b, "analysis_reasoning: %s\n", p.Reasoning)
	fmt.Fprintf(&b, "account:\n")
	fmt.Fprintf(&b, "open_positions: %d\n", exp.OpenPositions)
	fmt.Fprintf(&b, "total_notional_usd: %s\n", exp.TotalNotionalUSD.StringFixed(2))
	fmt.Fprintf(&b, "daily_realized_pnl: %s\n", exp.DailyRealizedPnL.StringFixed(2))

	return g.Assessor.AssessRisk(ctx, model, b.String())
}

// exposure serves a short-lived cached snapshot so back-to-back executions
// do not hammer the DB.
func (g *Gate) exposure(ctx context.Context) (Exposure, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.lastExposureAt) < exposureCacheTTL {
		return g.exposureCache, nil
	}

	summary, err := g.Repo.PositionsSummary(ctx)
	if err != nil {
		return Exposure{}, err
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	daily, err := g.Repo.SumRealizedPnLSince(ctx, midnight)
	if err != nil {
		return Exposure{}, err
	}

	g.exposureCache = Exposure{
		OpenPositions:    int(summary.OpenPositions),
		TotalNotionalUSD: decimal.NewFromFloat(summary.TotalNotional),
		DailyRealizedPnL: daily,
	}
	g.lastExposureAt = time.Now()
	return g.exposureCache, nil
}
