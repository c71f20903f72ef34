package consensus

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/models"
)

// scriptedAnalyst hands out one scripted result per call, in order.
type scriptedAnalyst struct {
	mu      sync.Mutex
	idx     int
	results []scriptedResult
}

type scriptedResult struct {
	decision agent.Decision
	err      error
}

func (a *scriptedAnalyst) AnalyzeMarket(ctx context.Context, model, input string) (agent.Decision, agent.Usage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.idx >= len(a.results) {
		return agent.Decision{}, agent.Usage{}, fmt.Errorf("unexpected call %d", a.idx)
	}
	r := a.results[a.idx]
	a.idx++
	return r.decision, agent.Usage{PromptTokens: 100, CompletionTokens: 20}, r.err
}

func vote(action string, confidence float64) scriptedResult {
	return scriptedResult{decision: agent.Decision{Action: action, Confidence: confidence, Reasoning: action + " looks right"}}
}

func swarmFlow(runs, minAgreement int) *models.Flow {
	return &models.Flow{
		ID:                 1,
		Mode:               models.ModeSwarm,
		SwarmRuns:          runs,
		MinAgreement:       minAgreement,
		ConflictResolution: models.ResolvePreferHold,
	}
}

func TestDecideMajorityWins(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		vote(models.ActionBuy, 0.75),
		vote(models.ActionBuy, 0.25),
		vote(models.ActionHold, 0.9),
	}}
	engine := &Engine{Analyst: analyst}

	outcome, trail, err := engine.Decide(context.Background(), swarmFlow(3, 50), "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionBuy {
		t.Fatalf("action=%s want=buy", outcome.Action)
	}
	if outcome.Agreement != 66 {
		t.Fatalf("agreement=%d want=66", outcome.Agreement)
	}
	if outcome.ForcedHold {
		t.Fatalf("unexpected forced hold")
	}
	if got := outcome.Confidence; got != 0.5 {
		t.Fatalf("confidence=%v want=0.5", got)
	}
	if len(trail) != 3 {
		t.Fatalf("trail=%d want=3", len(trail))
	}
}

func TestDecideLowAgreementForcesHold(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		vote(models.ActionBuy, 0.9),
		vote(models.ActionBuy, 0.8),
		vote(models.ActionSell, 0.7),
		vote(models.ActionSell, 0.6),
		vote(models.ActionHold, 0.5),
	}}
	engine := &Engine{Analyst: analyst}

	outcome, _, err := engine.Decide(context.Background(), swarmFlow(5, 60), "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionHold {
		t.Fatalf("action=%s want=hold", outcome.Action)
	}
	if !outcome.ForcedHold {
		t.Fatalf("expected forced hold")
	}
	if outcome.Agreement != 40 {
		t.Fatalf("agreement=%d want=40", outcome.Agreement)
	}
}

func TestDecideErrorsAreAbstentions(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		vote(models.ActionBuy, 0.8),
		{err: fmt.Errorf("rate limited")},
		vote(models.ActionBuy, 0.6),
	}}
	engine := &Engine{Analyst: analyst}

	outcome, trail, err := engine.Decide(context.Background(), swarmFlow(3, 50), "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionBuy {
		t.Fatalf("action=%s want=buy", outcome.Action)
	}
	// Two votes cast, both buy: the failed call shrinks the denominator.
	if outcome.Agreement != 100 {
		t.Fatalf("agreement=%d want=100", outcome.Agreement)
	}

	failed := 0
	for _, entry := range trail {
		if entry.Error != "" {
			failed++
			if entry.Action != "" {
				t.Fatalf("failed entry kept action %q", entry.Action)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed entries=%d want=1", failed)
	}
}

func TestDecideAllFailedHolds(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		{err: fmt.Errorf("timeout")},
		{err: fmt.Errorf("timeout")},
		{err: fmt.Errorf("timeout")},
	}}
	engine := &Engine{Analyst: analyst}

	outcome, trail, err := engine.Decide(context.Background(), swarmFlow(3, 50), "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionHold {
		t.Fatalf("action=%s want=hold", outcome.Action)
	}
	if outcome.Confidence != 0 {
		t.Fatalf("confidence=%v want=0", outcome.Confidence)
	}
	if len(trail) != 3 {
		t.Fatalf("trail=%d want=3", len(trail))
	}
}

func TestDecideTiePrefersHold(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		vote(models.ActionBuy, 0.9),
		vote(models.ActionHold, 0.4),
	}}
	engine := &Engine{Analyst: analyst}

	outcome, _, err := engine.Decide(context.Background(), swarmFlow(2, 50), "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionHold {
		t.Fatalf("action=%s want=hold", outcome.Action)
	}
	if outcome.ForcedHold {
		t.Fatalf("tie resolution is not a forced hold")
	}
}

func TestDecideSoloSingleRun(t *testing.T) {
	analyst := &scriptedAnalyst{results: []scriptedResult{
		vote(models.ActionSell, 0.75),
	}}
	engine := &Engine{Analyst: analyst}

	flow := &models.Flow{ID: 2, Mode: models.ModeSolo, SwarmRuns: 5, MinAgreement: 50}
	outcome, trail, err := engine.Decide(context.Background(), flow, "snapshot")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if outcome.Action != models.ActionSell {
		t.Fatalf("action=%s want=sell", outcome.Action)
	}
	if outcome.Agreement != 100 {
		t.Fatalf("agreement=%d want=100", outcome.Agreement)
	}
	if len(trail) != 1 {
		t.Fatalf("trail=%d want=1", len(trail))
	}
}
