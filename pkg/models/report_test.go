package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeCountsEveryStatus(t *testing.T) {
	results := []Result{
		{Scenario: "a", Status: StatusPassed},
		{Scenario: "b", Status: StatusPassed},
		{Scenario: "c", Status: StatusErrored},
		{Scenario: "d", Status: StatusTimedOut},
	}

	summary := Summarize(results)

	assert.Equal(t, 2, summary[StatusPassed])
	assert.Equal(t, 0, summary[StatusFailed])
	assert.Equal(t, 1, summary[StatusErrored])
	assert.Equal(t, 1, summary[StatusTimedOut])
	assert.Equal(t, len(results), summary.Total())
}

func TestFinalizeUsesLastFinishedResult(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	results := []Result{
		{Scenario: "first", Status: StatusPassed, FinishedAt: start.Add(3 * time.Second)},
		{Scenario: "second", Status: StatusFailed, FinishedAt: start.Add(time.Second)},
	}

	report := Finalize("run-1", start, results)

	require.Len(t, report.Results, 2)
	assert.Equal(t, start.Add(3*time.Second), report.FinishedAt)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, Summarize(report.Results), report.Summary)
	assert.True(t, report.Failed())
}

func TestFinalizeEmptyRun(t *testing.T) {
	start := time.Now()
	report := Finalize("empty", start, nil)

	assert.Equal(t, start, report.FinishedAt)
	assert.Empty(t, report.Results)
	assert.False(t, report.Failed())
	assert.Equal(t, 0, report.Summary.Total())
}

func TestFinalizeCopiesResults(t *testing.T) {
	results := []Result{{Scenario: "a", Status: StatusPassed}}
	report := Finalize("r", time.Now(), results)

	results[0].Status = StatusErrored
	assert.Equal(t, StatusPassed, report.Results[0].Status)
}

func TestSuiteResults(t *testing.T) {
	report := Finalize("r", time.Now(), []Result{
		{Suite: "landing", Scenario: "load"},
		{Suite: "canvas", Scenario: "render"},
		{Suite: "landing", Scenario: "nav"},
	})

	got := report.SuiteResults("landing")
	require.Len(t, got, 2)
	assert.Equal(t, "load", got[0].Scenario)
	assert.Equal(t, "nav", got[1].Scenario)
}

func TestViewportSlug(t *testing.T) {
	assert.Equal(t, "desktop-large", ViewportSpec{Label: "Desktop Large"}.Slug())
	assert.Equal(t, "mobile", ViewportSpec{Label: "Mobile"}.Slug())
	assert.Equal(t, "wide-tablet", ViewportSpec{Label: "  Wide   Tablet "}.Slug())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	for _, s := range TerminalStatuses {
		assert.True(t, s.IsTerminal(), s)
	}
}
