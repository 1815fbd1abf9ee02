package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunTrigger identifies what started a batch refresh run
type RunTrigger string

const (
	RunTriggerScheduled RunTrigger = "scheduled"
	RunTriggerManual    RunTrigger = "manual"
)

// OutcomeStatus is the terminal state of one account within a batch run
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Tier names recorded on refresh transactions
const (
	TierPro  = "pro"
	TierFree = "free"
)

// RefreshOutcome records what happened to a single account during a run
type RefreshOutcome struct {
	AccountId string          `json:"accountId"`
	UserId    string          `json:"userId"`
	Status    OutcomeStatus   `json:"status"`
	Tier      string          `json:"tier,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// BatchReport is the per-run result collector returned by a batch refresh
type BatchReport struct {
	RunId      string           `json:"runId"`
	Trigger    RunTrigger       `json:"trigger"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Succeeded  int              `json:"succeeded"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Outcomes   []RefreshOutcome `json:"outcomes"`
}

// Record appends an outcome and updates the counters.
func (r *BatchReport) Record(o RefreshOutcome) {
	switch o.Status {
	case OutcomeApplied:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Total returns the number of accounts processed in the run.
func (r *BatchReport) Total() int {
	return len(r.Outcomes)
}
