package model

import "time"

// RevisionID is the content-derived identifier of a revision: the SHA-256
// of the canonical JSON of the revision body (everything except the id).
type RevisionID string

// ShortID returns the first 8 characters for display.
func (id RevisionID) ShortID() string {
	s := string(id)
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

func (id RevisionID) String() string {
	return string(id)
}

// Revision is the on-disk revision descriptor. Revisions are append-only:
// once written they are never edited or deleted.
type Revision struct {
	ID        RevisionID  `json:"revision_id"`
	ParentID  *RevisionID `json:"parent_id,omitempty"`
	Author    string      `json:"author"`
	CreatedAt time.Time   `json:"created_at"`
	Message   string      `json:"message"`

	// Changed lists the vault-relative paths this revision touched,
	// including paths it removed.
	Changed []string `json:"changed"`

	// Manifest maps every tracked path to the SHA-256 of its content blob
	// as of this revision. Removed paths are absent.
	Manifest map[string]string `json:"manifest"`
}

// Touched reports whether the revision changed the given path.
func (r *Revision) Touched(path string) bool {
	for _, p := range r.Changed {
		if p == path {
			return true
		}
	}
	return false
}
