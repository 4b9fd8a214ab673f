// Package pathutil provides resource-name validation for PDM.
package pathutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/pdm-project/pdm/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}._ -]*$`)

// ValidateResourceName checks that a managed file name is safe to use as a
// key and as a path component under files/. Rejection happens before any
// lock is acquired.
func ValidateResourceName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("resource name must not be empty")
	}

	// NFC normalize so visually identical names hash the same
	name = norm.NFC.String(name)

	if strings.Contains(name, "..") {
		return errclass.ErrNameInvalid.WithMessagef("resource name must not contain '..': %s", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrPathEscape.WithMessagef("resource name must not contain separators: %s", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("resource name must not contain control characters: %q", name)
		}
	}
	if !nameRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("resource name must be letters, digits, '._ -' and not start with punctuation: %s", name)
	}
	return nil
}

// NormalizeResourceName returns the NFC form of a validated name. The vault
// normalizes every caller-supplied name at its boundary, so visually
// identical spellings share one lock key and one working-copy path.
func NormalizeResourceName(name string) string {
	return norm.NFC.String(name)
}
