package model

import "time"

// EventType identifies a vault state transition observable by clients.
type EventType string

const (
	EventLocked   EventType = "locked"
	EventUnlocked EventType = "unlocked"
	EventUploaded EventType = "uploaded"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
)

// Event is emitted after each successful state transition. Delivery is the
// notification layer's responsibility; the vault only publishes.
type Event struct {
	Type      EventType `json:"type"`
	Resource  string    `json:"resource_id"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`

	// Override is set when the transition was a privileged action on a lock
	// owned by someone else.
	Override bool `json:"override,omitempty"`
}

// FileStatus is the user-facing availability of a managed file.
type FileStatus string

const (
	StatusAvailable  FileStatus = "available"
	StatusCheckedOut FileStatus = "checked_out"
)

// FileInfo joins a managed file with its current lock state.
type FileInfo struct {
	Name       string     `json:"name"`
	SizeBytes  int64      `json:"size_bytes"`
	Status     FileStatus `json:"status"`
	LockedBy   string     `json:"locked_by,omitempty"`
	LockReason string     `json:"lock_reason,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
}
