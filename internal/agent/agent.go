package agent

// Decision is an analyst's recommendation for one symbol.
type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RiskAssessment is the risk agent's verdict on a proposed trade.
type RiskAssessment struct {
	Approved   bool    `json:"approved"`
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ReviewVerdict is the position reviewer's answer to "keep or close". The
// stop adjustments are optional; nil means leave the level alone.
type ReviewVerdict struct {
	Close         bool     `json:"close"`
	NewStopLoss   *float64 `json:"new_stop_loss"`
	NewTakeProfit *float64 `json:"new_take_profit"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
}

// Usage tracks per-call token spend for the execution audit trail.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}
