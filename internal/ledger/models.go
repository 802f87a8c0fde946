package ledger

import (
	"fmt"
	"time"
)

// GlobalScope is the rollup scope shared by all users.
const GlobalScope = "global"

// CostEvent is one billable operation. Events are never mutated.
type CostEvent struct {
	EventID      string
	ReportID     string
	UserID       string
	CostCenter   string
	FeatureName  string
	Operation    string
	USD          float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// BudgetStatus summarizes one scope's spend against its limit for the
// current period.
type BudgetStatus struct {
	Scope    string
	Period   string
	LimitUSD float64
	SpentUSD float64
	Exceeded bool
}

// Alert marks the first crossing of a budget threshold within a period.
type Alert struct {
	Scope     string
	Period    string
	Threshold int
	SpentUSD  float64
	LimitUSD  float64
}

// MonthlyTotal is one row of a per-scope spending report.
type MonthlyTotal struct {
	Period     string
	CostCenter string
	USD        float64
	Events     int64
}

// PeriodOf formats a timestamp as its UTC calendar-month period key.
func PeriodOf(at time.Time) string {
	utc := at.UTC()
	return fmt.Sprintf("%04d-%02d", utc.Year(), int(utc.Month()))
}
