package agent

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONPlain(t *testing.T) {
	raw := extractJSON(`{"action":"buy","confidence":0.8}`)
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Action != "buy" || d.Confidence != 0.8 {
		t.Fatalf("decision=%+v", d)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	content := "```json\n{\"close\":true,\"confidence\":0.9}\n```"
	var v ReviewVerdict
	if err := json.Unmarshal(extractJSON(content), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !v.Close || v.Confidence != 0.9 {
		t.Fatalf("verdict=%+v", v)
	}
}

func TestExtractJSONSurroundingProse(t *testing.T) {
	content := "Sure, here is my assessment:\n{\"approved\":false,\"risk_score\":0.7}\nLet me know if you need more."
	var a RiskAssessment
	if err := json.Unmarshal(extractJSON(content), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.Approved || a.RiskScore != 0.7 {
		t.Fatalf("assessment=%+v", a)
	}
}

func TestExtractJSONNoObjectPassthrough(t *testing.T) {
	if got := string(extractJSON("not json at all")); got != "not json at all" {
		t.Fatalf("got=%q", got)
	}
}

func TestClamp01(t *testing.T) {
	if got := clamp01(-0.2); got != 0 {
		t.Fatalf("clamp(-0.2)=%v", got)
	}
	if got := clamp01(0.45); got != 0.45 {
		t.Fatalf("clamp(0.45)=%v", got)
	}
	if got := clamp01(1.7); got != 1 {
		t.Fatalf("clamp(1.7)=%v", got)
	}
}

func TestEstimateCost(t *testing.T) {
	u := Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	if got := estimateCost("gpt-4o-mini", u); got != 0.75 {
		t.Fatalf("gpt-4o-mini cost=%v want=0.75", got)
	}
	// Unknown models bill at the most conservative known rate.
	if got := estimateCost("mystery-model", u); got != 12.5 {
		t.Fatalf("unknown model cost=%v want=12.5", got)
	}
}
