package models

import "time"

// RunStatus represents the lifecycle of a run started through the API
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
)

// Run tracks one execution of a set of suites
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Suites    []string  `json:"suites"`
	CreatedAt time.Time `json:"createdAt"`
	Report    *Report   `json:"report,omitempty"`
}

// CreateRunRequest is the payload for starting a run
type CreateRunRequest struct {
	// Suites restricts the run to the named suites; empty runs all of them
	Suites []string `json:"suites,omitempty"`
}

// EventType names what an Event reports
type EventType string

const (
	EventScenarioStarted  EventType = "scenario.started"
	EventScenarioFinished EventType = "scenario.finished"
	EventRunCompleted     EventType = "run.completed"
)

// Event is published to live listeners as scenarios change state
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Suite     string    `json:"suite,omitempty"`
	Scenario  string    `json:"scenario,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Summary   Summary   `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
