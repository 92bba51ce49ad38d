package types

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// RuleID is the 128-bit identity of a rule. Rule equality is by RuleID.
type RuleID uuid.UUID

// NilRuleID is the zero rule identity.
var NilRuleID RuleID

// NewRuleID generates a UUIDv7 identifier for rules authored in-process.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()))
}

// RuleIDFromLegacy derives the identity of a stored rule from its legacy
// int64 key. The first eight bytes are zero and the last eight carry the key
// in little-endian order, matching identities already recorded elsewhere.
func RuleIDFromLegacy(legacyID int64) RuleID {
	var id RuleID
	binary.LittleEndian.PutUint64(id[8:], uint64(legacyID))
	return id
}

// LegacyID reports the legacy key encoded in a derived RuleID.
// ok is false for identities that were not derived from a legacy key.
func (id RuleID) LegacyID() (legacyID int64, ok bool) {
	for _, b := range id[:8] {
		if b != 0 {
			return 0, false
		}
	}
	return int64(binary.LittleEndian.Uint64(id[8:])), true
}

// ParseRuleID validates and converts a string to RuleID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseRuleID(s string) (RuleID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilRuleID, err
	}
	return RuleID(u), nil
}

// String returns the canonical hyphenated form.
func (id RuleID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero identity.
func (id RuleID) IsNil() bool {
	return id == NilRuleID
}
