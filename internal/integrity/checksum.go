// Package integrity centralizes the hash computations the revision store is
// built on, so the writer and every verifier agree byte for byte.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pdm-project/pdm/pkg/jsonutil"
	"github.com/pdm-project/pdm/pkg/model"
)

// BlobHash returns the hex SHA-256 of blob content, the name the blob is
// stored under in the objects directory.
func BlobHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeRevisionID derives a revision's id from the canonical JSON of its
// descriptor body with the id field cleared. Any edit to a stored
// descriptor changes the recomputed id and is detected as tampering.
func ComputeRevisionID(rev *model.Revision) (model.RevisionID, error) {
	body := *rev
	body.ID = ""
	data, err := jsonutil.CanonicalMarshal(&body)
	if err != nil {
		return "", fmt.Errorf("canonicalize revision: %w", err)
	}
	sum := sha256.Sum256(data)
	return model.RevisionID(hex.EncodeToString(sum[:])), nil
}
