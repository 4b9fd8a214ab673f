package model

import "time"

// HashValue is a hex-encoded SHA-256.
type HashValue string

// AuditEventType identifies the type of auditable event.
type AuditEventType string

const (
	EventTypeCheckout        AuditEventType = "checkout"
	EventTypeCheckin         AuditEventType = "checkin"
	EventTypeCheckinOverride AuditEventType = "checkin_override"
	EventTypeUpload          AuditEventType = "upload"
	EventTypeUpdate          AuditEventType = "update"
	EventTypeDelete          AuditEventType = "delete"
	EventTypeGCRun           AuditEventType = "gc_run"
)

// AuditRecord is a single line in the audit log (JSONL format). Each record
// hashes its predecessor so tampering breaks the chain.
type AuditRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	EventType  AuditEventType `json:"event_type"`
	Resource   string         `json:"resource,omitempty"`
	Actor      string         `json:"actor"`
	RevisionID RevisionID     `json:"revision_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   HashValue      `json:"prev_hash"`
	RecordHash HashValue      `json:"record_hash"`
}
