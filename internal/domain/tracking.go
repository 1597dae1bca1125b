package domain

import "time"

// TrackingRecord links a remote course to the local content item created for it.
type TrackingRecord struct {
	ID             int64
	RemoteID       *int64
	CatalogID      *int64
	LocalContentID *int64
	Title          string
	Slug           string
	SyncStatus     TrackingStatus
	StatusReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Orphan reasons recorded when a tracking record is demoted.
const (
	ReasonDeleted = "deleted"
	ReasonTrashed = "trashed"
)
