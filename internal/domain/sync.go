package domain

import "time"

// SyncSummary is the result of one import batch.
// Imported + Skipped + Errors always equals Total.
type SyncSummary struct {
	RunID    string           `json:"run_id,omitempty"`
	Imported int              `json:"imported"`
	Skipped  int              `json:"skipped"`
	Errors   int              `json:"errors"`
	Total    int              `json:"total"`
	Message  string           `json:"message"`
	Courses  []ImportedCourse `json:"courses,omitempty"`

	// AlreadySynced holds manual selections filtered out before import.
	AlreadySynced []int64 `json:"already_synced,omitempty"`
	Warning       string  `json:"warning,omitempty"`
}

// Balanced reports whether the tallies add up to the batch size.
func (s SyncSummary) Balanced() bool {
	return s.Imported+s.Skipped+s.Errors == s.Total
}

type ImportedCourse struct {
	RemoteID int64  `json:"remote_id"`
	LocalID  int64  `json:"local_id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
}

// SyncStatusSnapshot is the ephemeral progress of an in-flight import run.
type SyncStatusSnapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Running   bool      `json:"running"`
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Imported  int       `json:"imported"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdleSnapshot is returned when no run is in flight.
func IdleSnapshot() SyncStatusSnapshot {
	return SyncStatusSnapshot{Message: "No sync in progress"}
}
