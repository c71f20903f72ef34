package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/models"
)

// Analyst is the single-call decision dependency; satisfied by *agent.Client.
type Analyst interface {
	AnalyzeMarket(ctx context.Context, model, input string) (agent.Decision, agent.Usage, error)
}

// Outcome is the aggregated verdict of one swarm round.
type Outcome struct {
	Action     string
	Confidence float64
	Agreement  int
	Reasoning  string

	// ForcedHold marks an action overridden to hold because agreement fell
	// below the flow threshold. The vote tally is still reported as-is.
	ForcedHold bool

	Usage agent.Usage
}

// Engine fans one market snapshot out to N identical analyst calls and
// folds the votes into a single action.
type Engine struct {
	Logger  *zap.Logger
	Analyst Analyst
}

// Decide runs the swarm round. Failed calls count as abstentions: they are
// recorded in the trail but drop out of the vote denominator. Only when
// every call fails does the round degrade to a zero-confidence hold.
func (e *Engine) Decide(ctx context.Context, flow *models.Flow, input string) (Outcome, []models.AgentDecision, error) {
	if e == nil || e.Analyst == nil {
		return Outcome{}, nil, fmt.Errorf("consensus engine not configured")
	}
	if flow == nil {
		return Outcome{}, nil, fmt.Errorf("nil flow")
	}

	runs := 1
	if flow.Mode == models.ModeSwarm {
		runs = flow.SwarmRuns
	}
	if runs < 1 {
		runs = 1
	}

	type result struct {
		idx      int
		decision agent.Decision
		usage    agent.Usage
		err      error
	}

	results := make([]result, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d, u, err := e.Analyst.AnalyzeMarket(ctx, flow.DecisionModel, input)
			results[idx] = result{idx: idx, decision: d, usage: u, err: err}
		}(i)
	}
	wg.Wait()

	trail := make([]models.AgentDecision, 0, runs)
	var voted []agent.Decision
	var usage agent.Usage
	now := time.Now().UTC()
	for _, r := range results {
		usage.Add(r.usage)
		entry := models.AgentDecision{
			Role:       "analyst",
			Confidence: r.decision.Confidence,
			Action:     r.decision.Action,
			Reasoning:  r.decision.Reasoning,
			TokensUsed: r.usage.TotalTokens(),
			CostUSD:    r.usage.CostUSD,
			DecidedAt:  now,
		}
		if r.err != nil {
			entry.Error = r.err.Error()
			entry.Action = ""
			entry.Confidence = 0
			entry.Reasoning = ""
			if e.Logger != nil {
				e.Logger.Warn("analyst call failed",
					zap.Uint64("flow_id", flow.ID),
					zap.Int("run", r.idx+1),
					zap.Error(r.err))
			}
		} else {
			voted = append(voted, r.decision)
		}
		trail = append(trail, entry)
	}

	if len(voted) == 0 {
		return Outcome{
			Action:     models.ActionHold,
			Confidence: 0,
			Agreement:  0,
			Reasoning:  "all analyst calls failed",
			Usage:      usage,
		}, trail, nil
	}

	outcome := tally(voted, flow.ConflictResolution)
	outcome.Usage = usage

	if outcome.Agreement < flow.MinAgreement && outcome.Action != models.ActionHold {
		outcome.Reasoning = fmt.Sprintf(
			"agreement %d%% below required %d%%, holding (top vote was %s): %s",
			outcome.Agreement, flow.MinAgreement, outcome.Action, outcome.Reasoning)
		outcome.Action = models.ActionHold
		outcome.ForcedHold = true
	}

	return outcome, trail, nil
}

// tally folds the successful votes. Agreement is the winner's share of the
// votes that were actually cast, in whole percent.
func tally(voted []agent.Decision, conflictPolicy string) Outcome {
	byAction := map[string][]agent.Decision{}
	for _, d := range voted {
		byAction[d.Action] = append(byAction[d.Action], d)
	}

	maxVotes := 0
	for _, ds := range byAction {
		if len(ds) > maxVotes {
			maxVotes = len(ds)
		}
	}
	var tied []string
	for action, ds := range byAction {
		if len(ds) == maxVotes {
			tied = append(tied, action)
		}
	}
	sort.Strings(tied)

	winner := tied[0]
	if len(tied) > 1 {
		winner = breakTie(tied, byAction, conflictPolicy)
	}

	winners := byAction[winner]
	sort.Slice(winners, func(i, j int) bool { return winners[i].Confidence > winners[j].Confidence })

	return Outcome{
		Action:     winner,
		Confidence: meanConfidence(winners),
		Agreement:  maxVotes * 100 / len(voted),
		Reasoning:  joinReasons(winners),
	}
}

func breakTie(tied []string, byAction map[string][]agent.Decision, policy string) string {
	if policy != models.ResolveMajorityConfidence {
		// prefer_hold is the default policy.
		for _, action := range tied {
			if action == models.ActionHold {
				return action
			}
		}
	}

	best := ""
	bestConf := -1.0
	for _, action := range tied {
		conf := meanConfidence(byAction[action])
		if conf > bestConf {
			best, bestConf = action, conf
			continue
		}
		// Exact confidence tie still falls back to hold.
		if conf == bestConf && action == models.ActionHold {
			best = action
		}
	}
	return best
}

func meanConfidence(ds []agent.Decision) float64 {
	if len(ds) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ds {
		sum += d.Confidence
	}
	return sum / float64(len(ds))
}

func joinReasons(ds []agent.Decision) string {
	parts := make([]string, 0, len(ds))
	for i, d := range ds {
		if strings.TrimSpace(d.Reasoning) == "" {
			continue
		}
		parts = append(parts, d.Reasoning)
		if i >= 2 {
			break
		}
	}
	return strings.Join(parts, " | ")
}
