package models

import "time"

// Status represents the state of a single scenario execution
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusPassed   Status = "PASSED"
	StatusFailed   Status = "FAILED"
	StatusTimedOut Status = "TIMED_OUT"
	StatusErrored  Status = "ERRORED"
)

// TerminalStatuses lists the states a recorded Result can be in
var TerminalStatuses = []Status{StatusPassed, StatusFailed, StatusTimedOut, StatusErrored}

// IsTerminal reports whether the status is final
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusTimedOut, StatusErrored:
		return true
	}
	return false
}

// DiagnosticKind classifies why a scenario did not pass
type DiagnosticKind string

const (
	DiagnosticAssertion          DiagnosticKind = "assertion"
	DiagnosticInfrastructure     DiagnosticKind = "infrastructure"
	DiagnosticTimeout            DiagnosticKind = "timeout"
	DiagnosticPanic              DiagnosticKind = "panic"
	DiagnosticSessionUnavailable DiagnosticKind = "session_unavailable"
)

// Diagnostic describes a scenario failure
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
}

// Data is the structured payload a scenario produces
type Data map[string]any

// Result is the outcome record of one scenario execution
type Result struct {
	Suite      string      `json:"suite"`
	Scenario   string      `json:"scenario"`
	Kind       string      `json:"kind,omitempty"`
	Status     Status      `json:"status"`
	Data       Data        `json:"data,omitempty"`
	Error      *Diagnostic `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}
