package models

import "time"

const (
	EventImportCompleted = "import.completed"
	EventImportFailed    = "import.failed"
)

// ImportEvent announces the outcome of one import run.
type ImportEvent struct {
	Type       string         `json:"type"`
	RunID      string         `json:"run_id"`
	Feed       Feed           `json:"feed"`
	Trigger    Trigger        `json:"trigger"`
	Status     RunStatus      `json:"status"`
	Counts     map[string]int `json:"counts"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
