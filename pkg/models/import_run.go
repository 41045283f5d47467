package models

import (
	"time"

	"github.com/Ramsey-B/heather/pkg/database"
)

type Feed string

const (
	FeedCatalog      Feed = "catalog"
	FeedAvailability Feed = "availability"
)

func (f Feed) Valid() bool {
	return f == FeedCatalog || f == FeedAvailability
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerStartup  Trigger = "startup"
	TriggerManual   Trigger = "manual"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped only labels metrics. Skipped runs are never stored.
	RunStatusSkipped   RunStatus = "skipped"
)

// ImportRun is one row of run history.
type ImportRun struct {
	ID         string                         `json:"id" db:"id"`
	Feed       Feed                           `json:"feed" db:"feed"`
	Trigger    Trigger                        `json:"trigger" db:"trigger"`
	Status     RunStatus                      `json:"status" db:"status"`
	StartedAt  time.Time                      `json:"started_at" db:"started_at"`
	FinishedAt *time.Time                     `json:"finished_at,omitempty" db:"finished_at"`
	DurationMS *int64                         `json:"duration_ms,omitempty" db:"duration_ms"`
	Summary    database.JSONB[map[string]int] `json:"summary" db:"summary"`
	Error      *string                        `json:"error,omitempty" db:"error"`
	TraceID    *string                        `json:"trace_id,omitempty" db:"trace_id"`
}

// ImportRunFilter narrows a run history listing.
type ImportRunFilter struct {
	Feed  Feed
	Limit int
}
