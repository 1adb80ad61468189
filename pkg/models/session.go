package models

import "time"

// SessionStatus represents the state of a browser session
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionError     SessionStatus = "ERROR"
)

// Session is one browser page handle opened for a suite
type Session struct {
	ID          string        `json:"id"`
	Suite       string        `json:"suite"`
	Backend     string        `json:"backend"`
	Status      SessionStatus `json:"status"`
	ConnectURL  string        `json:"connectUrl,omitempty"`
	ContainerID string        `json:"containerId,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}
