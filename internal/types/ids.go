package types

import (
	"time"

	"github.com/google/uuid"
)

// NewVariableID generates a UUIDv7 variable identifier.
// Time-ordered IDs keep inserts clustered in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewVariableID() VariableID {
	return VariableID(uuid.Must(uuid.NewV7()).String())
}

// ParseVariableID validates and converts a string to VariableID.
func ParseVariableID(s string) (VariableID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return VariableID(s), nil
}

// VariableIDTime extracts the creation timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func VariableIDTime(id VariableID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
