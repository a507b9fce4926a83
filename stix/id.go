package stix

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace used for deterministic identifiers.
// It is the namespace defined by the STIX 2.1 specification.
var Namespace = uuid.MustParse("00abedb4-aa42-466c-9c01-fed23315a9b7")

// NewID returns a random identifier for the given object type.
func NewID(objectType string) string {
	return fmt.Sprintf("%s--%s", objectType, uuid.NewString())
}

// DeterministicID returns a UUIDv5 identifier derived from the given parts.
// The same parts always produce the same id.
func DeterministicID(objectType string, parts ...string) string {
	name := objectType + ":" + strings.Join(parts, "|")
	return fmt.Sprintf("%s--%s", objectType, uuid.NewSHA1(Namespace, []byte(name)))
}

// ParseID splits "<type>--<suffix>" into its type and suffix.
// The suffix is usually a UUID but is not required to be one.
func ParseID(id string) (objectType, suffix string, err error) {
	objectType, suffix, ok := strings.Cut(id, "--")
	if !ok || objectType == "" || suffix == "" {
		return "", "", fmt.Errorf("invalid STIX id %q", id)
	}
	return objectType, suffix, nil
}

// TypeOfID returns the type prefix of id, or "" if id is malformed.
func TypeOfID(id string) string {
	t, _, err := ParseID(id)
	if err != nil {
		return ""
	}
	return t
}

// FormatTime renders t as a STIX timestamp (RFC3339, UTC, nanosecond precision
// when present).
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a STIX timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid STIX timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
