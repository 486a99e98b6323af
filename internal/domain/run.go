package domain

import "time"

// ScoreRun is the outcome of one scoring job execution. ComputedAt and ID are
// assigned by the job, never by the engine, so recomputing the same inputs
// yields an identical Table.
type ScoreRun struct {
	ID            string               `json:"id"`
	ComputedAt    time.Time            `json:"computed_at"`
	Range         DateRange            `json:"range"`
	Table         ScoreTable           `json:"table"`
	PolicyImpacts []PolicyImpactResult `json:"policy_impacts"`
}

// Incomplete counts the scored rows where some weighted indicator was missing.
func (r ScoreRun) Incomplete() int {
	var n int
	for _, s := range r.Table.Scores {
		if s.Coverage < 1 {
			n++
		}
	}
	return n
}
