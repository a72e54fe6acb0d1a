package identity

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizePrincipalID validates a principal id and returns its canonical
// lower-case UUID form.
func NormalizePrincipalID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid("identity.NormalizePrincipalID", "empty principal id")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", invalid("identity.NormalizePrincipalID", "principal id must be a UUID")
	}
	return id.String(), nil
}
