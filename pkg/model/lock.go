package model

import "time"

// LockRecord is one exclusive claim on a managed file. The full set of
// active records is persisted as a single JSON document (locks.json in the
// vault root) keyed by resource name.
//
// Records are never mutated in place: release plus re-acquire produces a
// fresh record with a new AcquiredAt.
type LockRecord struct {
	Resource   string    `json:"resource"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	Reason     string    `json:"reason,omitempty"`
}

// LockStoreDoc is the serialized form of the lock store document.
type LockStoreDoc map[string]*LockRecord

// Clone returns a deep copy of the document.
func (d LockStoreDoc) Clone() LockStoreDoc {
	out := make(LockStoreDoc, len(d))
	for k, v := range d {
		rec := *v
		out[k] = &rec
	}
	return out
}
