package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const analystSystemPrompt = `You are a cryptocurrency trading analyst.
Given a market snapshot and the current position (if any), decide one action.
Respond with strict JSON only, no prose outside of it:
{"action":"buy"|"sell"|"hold","confidence":0.0-1.0,"reasoning":"one short paragraph"}
"buy" opens or keeps a long, "sell" opens or keeps a short, "hold" means do nothing.`

const riskSystemPrompt = `You are a trading risk officer reviewing a proposed trade.
Consider position sizing, current exposure, volatility and recent losses.
Respond with strict JSON only:
{"approved":true|false,"risk_score":0.0-1.0,"confidence":0.0-1.0,"reasoning":"one short paragraph"}
risk_score 0 means negligible risk, 1 means unacceptable.`

const reviewerSystemPrompt = `You are reviewing an open trading position.
Decide whether it should be closed now based on the live snapshot, or
whether its protective levels should move. Respond with strict JSON only:
{"close":true|false,"new_stop_loss":number|null,"new_take_profit":number|null,"confidence":0.0-1.0,"reasoning":"one short paragraph"}
Use null to leave a level unchanged. A new stop must never widen the risk:
for a long it may only move up, for a short only down.`

// AnalyzeMarket runs one analyst pass over a rendered market snapshot.
func (c *Client) AnalyzeMarket(ctx context.Context, model, input string) (Decision, Usage, error) {
	content, usage, err := c.Complete(ctx, model, analystSystemPrompt, input)
	if err != nil {
		return Decision{}, usage, err
	}
	var d Decision
	if err := json.Unmarshal(extractJSON(content), &d); err != nil {
		return Decision{}, usage, fmt.Errorf("analyst response parse: %w", err)
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	switch d.Action {
	case "buy", "sell", "hold":
	default:
		return Decision{}, usage, fmt.Errorf("analyst returned invalid action %q", d.Action)
	}
	d.Confidence = clamp01(d.Confidence)
	return d, usage, nil
}

// AssessRisk runs the risk officer over a rendered trade proposal.
func (c *Client) AssessRisk(ctx context.Context, model, input string) (RiskAssessment, Usage, error) {
	content, usage, err := c.Complete(ctx, model, riskSystemPrompt, input)
	if err != nil {
		return RiskAssessment{}, usage, err
	}
	var a RiskAssessment
	if err := json.Unmarshal(extractJSON(content), &a); err != nil {
		return RiskAssessment{}, usage, fmt.Errorf("risk response parse: %w", err)
	}
	a.RiskScore = clamp01(a.RiskScore)
	a.Confidence = clamp01(a.Confidence)
	return a, usage, nil
}

// ReviewPosition asks whether an open position should be closed.
func (c *Client) ReviewPosition(ctx context.Context, model, input string) (ReviewVerdict, Usage, error) {
	content, usage, err := c.Complete(ctx, model, reviewerSystemPrompt, input)
	if err != nil {
		return ReviewVerdict{}, usage, err
	}
	var v ReviewVerdict
	if err := json.Unmarshal(extractJSON(content), &v); err != nil {
		return ReviewVerdict{}, usage, fmt.Errorf("review response parse: %w", err)
	}
	v.Confidence = clamp01(v.Confidence)
	return v, usage, nil
}

// extractJSON tolerates markdown fences and leading prose around the JSON
// object some models still emit.
func extractJSON(content string) []byte {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.Index(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return []byte(content[start : end+1])
	}
	return []byte(content)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
