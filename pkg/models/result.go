package models

import "time"

// RunResult is the part of a reconciliation result shared by both feeds.
type RunResult interface {
	Counts() map[string]int
	WasSkipped() bool
	Elapsed() time.Duration
}

type CatalogResult struct {
	Fetched   int
	Created   int
	Updated   int
	Unchanged int
	Invalid   int
	Skipped   bool
	Duration  time.Duration
}

func (r CatalogResult) Counts() map[string]int {
	return map[string]int{
		"fetched":   r.Fetched,
		"created":   r.Created,
		"updated":   r.Updated,
		"unchanged": r.Unchanged,
		"invalid":   r.Invalid,
	}
}

func (r CatalogResult) WasSkipped() bool       { return r.Skipped }
func (r CatalogResult) Elapsed() time.Duration { return r.Duration }

type AvailabilityResult struct {
	Fetched         int
	MadeAvailable   int
	MadeUnavailable int
	DatesUpdated    int
	Skipped         bool
	Duration        time.Duration
}

func (r AvailabilityResult) Counts() map[string]int {
	return map[string]int{
		"fetched":          r.Fetched,
		"made_available":   r.MadeAvailable,
		"made_unavailable": r.MadeUnavailable,
		"dates_updated":    r.DatesUpdated,
	}
}

func (r AvailabilityResult) WasSkipped() bool       { return r.Skipped }
func (r AvailabilityResult) Elapsed() time.Duration { return r.Duration }

// RunSummary is the serialized form of a result used by the operator API and events.
type RunSummary struct {
	Feed       Feed           `json:"feed"`
	Skipped    bool           `json:"skipped"`
	Counts     map[string]int `json:"counts"`
	DurationMS int64          `json:"duration_ms"`
}

func Summarize(feed Feed, r RunResult) RunSummary {
	return RunSummary{
		Feed:       feed,
		Skipped:    r.WasSkipped(),
		Counts:     r.Counts(),
		DurationMS: r.Elapsed().Milliseconds(),
	}
}
