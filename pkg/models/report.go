package models

import (
	"time"

	"github.com/samber/lo"
)

// Summary maps each terminal status to the number of results in it
type Summary map[Status]int

// Total returns the number of results counted
func (s Summary) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Report aggregates every Result of one run
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Result  `json:"results"`
	Summary    Summary   `json:"summary"`
}

// Summarize counts results per status. Every terminal status is present so
// summaries of different runs compare cleanly.
func Summarize(results []Result) Summary {
	summary := make(Summary, len(TerminalStatuses))
	for _, status := range TerminalStatuses {
		summary[status] = 0
	}
	for status, n := range lo.CountValuesBy(results, func(r Result) Status { return r.Status }) {
		summary[status] = n
	}
	return summary
}

// Finalize builds the Report for a completed run. FinishedAt is the finish
// time of the last completed scenario, or startedAt when nothing ran.
func Finalize(runID string, startedAt time.Time, results []Result) *Report {
	finishedAt := startedAt
	for _, r := range results {
		if r.FinishedAt.After(finishedAt) {
			finishedAt = r.FinishedAt
		}
	}
	out := make([]Result, len(results))
	copy(out, results)

	return &Report{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Results:    out,
		Summary:    Summarize(out),
	}
}

// Failed reports whether any scenario ended in a non-passing state. Callers
// decide whether to use this as the overall verdict.
func (r *Report) Failed() bool {
	if r == nil {
		return false
	}
	return r.Summary[StatusFailed]+r.Summary[StatusErrored]+r.Summary[StatusTimedOut] > 0
}

// SuiteResults returns the results recorded for one suite, in report order
func (r *Report) SuiteResults(suite string) []Result {
	return lo.Filter(r.Results, func(res Result, _ int) bool { return res.Suite == suite })
}
