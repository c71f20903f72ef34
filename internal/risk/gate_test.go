package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/config"
	"swarmtrade/internal/models"
	"swarmtrade/internal/repository"
)

// stubRepo provides only the exposure queries the gate needs; embedding the
// interface leaves the rest panicking if touched.
type stubRepo struct {
	repository.Repository
	summary repository.PortfolioSummary
	daily   decimal.Decimal
}

func (s *stubRepo) PositionsSummary(ctx context.Context) (repository.PortfolioSummary, error) {
	return s.summary, nil
}

func (s *stubRepo) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return s.daily, nil
}

type stubAssessor struct {
	assessment agent.RiskAssessment
	err        error
	calls      int
}

func (a *stubAssessor) AssessRisk(ctx context.Context, model, input string) (agent.RiskAssessment, agent.Usage, error) {
	a.calls++
	return a.assessment, agent.Usage{PromptTokens: 200, CompletionTokens: 40}, a.err
}

func testFlow() *models.Flow {
	return &models.Flow{
		ID:                   7,
		Symbol:               "BTCUSDT",
		RiskWarningThreshold: 0.6,
		RiskReducePercent:    30,
	}
}

func testProposal() Proposal {
	return Proposal{
		FlowID:     7,
		Symbol:     "BTCUSDT",
		Action:     models.ActionBuy,
		Confidence: 0.8,
		SizeUSD:    decimal.NewFromInt(500),
		Leverage:   2,
		Price:      decimal.NewFromInt(50000),
	}
}

func testCfg() config.RiskConfig {
	return config.RiskConfig{
		MaxOpenPositions:    5,
		MaxPositionUSD:      1000,
		MaxTotalNotionalUSD: 5000,
		MaxDailyLossUSD:     500,
		MaxLeverage:         10,
		MinConfidence:       0.3,
	}
}

func TestCheckHardLimits(t *testing.T) {
	cfg := testCfg()

	cases := []struct {
		name    string
		exp     Exposure
		mutate  func(*Proposal)
		wantErr bool
	}{
		{name: "within limits", exp: Exposure{OpenPositions: 1}},
		{name: "position cap", exp: Exposure{OpenPositions: 5}, wantErr: true},
		{
			name:    "size cap",
			mutate:  func(p *Proposal) { p.SizeUSD = decimal.NewFromInt(1500) },
			wantErr: true,
		},
		{
			name:    "total notional cap",
			exp:     Exposure{TotalNotionalUSD: decimal.NewFromInt(4800)},
			wantErr: true,
		},
		{
			name:    "daily loss cap",
			exp:     Exposure{DailyRealizedPnL: decimal.NewFromInt(-500)},
			wantErr: true,
		},
		{
			name:    "leverage cap",
			mutate:  func(p *Proposal) { p.Leverage = 20 },
			wantErr: true,
		},
		{
			name:    "confidence floor",
			mutate:  func(p *Proposal) { p.Confidence = 0.1 },
			wantErr: true,
		},
		{
			name:    "zero size",
			mutate:  func(p *Proposal) { p.SizeUSD = decimal.Zero },
			wantErr: true,
		},
	}
	for _, tc := range cases {
		p := testProposal()
		if tc.mutate != nil {
			tc.mutate(&p)
		}
		err := CheckHardLimits(cfg, tc.exp, p)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestReduceSize(t *testing.T) {
	got := ReduceSize(decimal.NewFromInt(1000), 30)
	if got.StringFixed(2) != "700.00" {
		t.Fatalf("reduced=%s want=700.00", got.StringFixed(2))
	}
	if got := ReduceSize(decimal.NewFromInt(100), 0); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("zero pct changed size: %s", got)
	}
	if got := ReduceSize(decimal.NewFromInt(100), 100); !got.IsZero() {
		t.Fatalf("full reduction not zero: %s", got)
	}
}

func TestGateHardLimitShortCircuits(t *testing.T) {
	assessor := &stubAssessor{}
	gate := &Gate{
		Repo:     &stubRepo{},
		Assessor: assessor,
		Cfg:      testCfg(),
	}

	p := testProposal()
	p.SizeUSD = decimal.NewFromInt(5000)
	result, err := gate.Evaluate(context.Background(), testFlow(), p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected rejection")
	}
	if result.Action != models.ActionHold {
		t.Fatalf("action=%s want=hold", result.Action)
	}
	if assessor.calls != 0 {
		t.Fatalf("assessor called %d times on hard-limit rejection", assessor.calls)
	}
}

func TestGateAIRejectionHolds(t *testing.T) {
	assessor := &stubAssessor{assessment: agent.RiskAssessment{
		Approved:   false,
		RiskScore:  0.9,
		Confidence: 0.8,
		Reasoning:  "overexposed to momentum",
	}}
	gate := &Gate{Repo: &stubRepo{}, Assessor: assessor, Cfg: testCfg()}

	result, err := gate.Evaluate(context.Background(), testFlow(), testProposal())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected rejection")
	}
	if result.Action != models.ActionHold {
		t.Fatalf("action=%s want=hold", result.Action)
	}
	if len(result.Trail) != 1 || result.Trail[0].Role != "risk" {
		t.Fatalf("missing risk trail entry: %+v", result.Trail)
	}
}

func TestGateAssessorErrorHolds(t *testing.T) {
	assessor := &stubAssessor{err: fmt.Errorf("model timeout")}
	gate := &Gate{Repo: &stubRepo{}, Assessor: assessor, Cfg: testCfg()}

	result, err := gate.Evaluate(context.Background(), testFlow(), testProposal())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Allowed || result.Action != models.ActionHold {
		t.Fatalf("assessor failure must hold, got %+v", result)
	}
	if result.Trail[0].Error == "" {
		t.Fatalf("trail entry should record the error")
	}
}

func TestGateWarningReducesSize(t *testing.T) {
	assessor := &stubAssessor{assessment: agent.RiskAssessment{
		Approved:   true,
		RiskScore:  0.7,
		Confidence: 0.5,
		Reasoning:  "elevated volatility",
	}}
	gate := &Gate{Repo: &stubRepo{}, Assessor: assessor, Cfg: testCfg()}

	result, err := gate.Evaluate(context.Background(), testFlow(), testProposal())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected approval, got %+v", result)
	}
	if result.WarningAction != "reduce_size" {
		t.Fatalf("warning=%q want=reduce_size", result.WarningAction)
	}
	if result.SizeUSD.StringFixed(2) != "350.00" {
		t.Fatalf("size=%s want=350.00", result.SizeUSD.StringFixed(2))
	}
	// Final confidence is analysis x risk confidence.
	if result.Confidence != 0.4 {
		t.Fatalf("confidence=%v want=0.4", result.Confidence)
	}
}

func TestGateLowScorePassesUntouched(t *testing.T) {
	assessor := &stubAssessor{assessment: agent.RiskAssessment{
		Approved:   true,
		RiskScore:  0.2,
		Confidence: 1,
		Reasoning:  "clean",
	}}
	gate := &Gate{Repo: &stubRepo{}, Assessor: assessor, Cfg: testCfg()}

	p := testProposal()
	result, err := gate.Evaluate(context.Background(), testFlow(), p)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed || result.WarningAction != "" {
		t.Fatalf("unexpected warning: %+v", result)
	}
	if !result.SizeUSD.Equal(p.SizeUSD) {
		t.Fatalf("size changed: %s want=%s", result.SizeUSD, p.SizeUSD)
	}
}
