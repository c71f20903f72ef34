package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Execution statuses. An execution reaches a terminal status exactly once.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Actions an analyst (or the aggregate) can recommend.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Execution is one run of a Flow through the decision pipeline. The full
// per-agent decision trail is kept for audit regardless of outcome.
type Execution struct {
	ID     string `gorm:"type:varchar(36);primaryKey"`
	FlowID uint64 `gorm:"not null;index"`

	Status  string `gorm:"type:varchar(12);not null;default:'running';index"`
	Trigger string `gorm:"type:varchar(20);not null"`
	Symbol  string `gorm:"type:varchar(30);not null;index"`

	// Decisions holds the timestamped per-agent records
	// (role, input snapshot, output, confidence, cost).
	Decisions datatypes.JSON `gorm:"type:jsonb"`

	FinalAction     string  `gorm:"type:varchar(10)"`
	FinalConfidence float64 `gorm:"not null;default:0"`
	FinalReasoning  string  `gorm:"type:text"`
	Agreement       int     `gorm:"not null;default:0"`

	WarningAction string `gorm:"type:varchar(20)"`

	TotalCost decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	Error string `gorm:"type:text"`

	StartedAt  time.Time  `gorm:"type:timestamptz;not null"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Execution) TableName() string {
	return "executions"
}

// AgentDecision is one entry of Execution.Decisions.
type AgentDecision struct {
	Role       string    `json:"role"`
	Input      string    `json:"input,omitempty"`
	Action     string    `json:"action,omitempty"`
	Approved   *bool     `json:"approved,omitempty"`
	RiskScore  float64   `json:"risk_score,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
	Error      string    `json:"error,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}
