package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TokenKind discriminates the three verification token variants sharing one table.
type TokenKind string

const (
	// TokenKindStanding verifies an account that already exists but is unverified.
	TokenKindStanding TokenKind = "standing"
	// TokenKindPendingPointer maps a claimed email to the secret of an in-flight registration.
	TokenKindPendingPointer TokenKind = "pending_pointer"
	// TokenKindPendingPayload stores the serialized registration data, keyed by the secret.
	TokenKindPendingPayload TokenKind = "pending_payload"
)

// VerificationToken is the sole persisted entity of the registration subsystem.
//
// Standing and pointer rows carry a random secret in Token. Payload rows carry
// no secret: their Identifier is the paired secret and Payload holds the
// serialized pending registration. A pending registration is always a pair of
// rows (pointer + payload) written and deleted together.
type VerificationToken struct {
	BaseModel

	Kind       TokenKind      `gorm:"not null;index:idx_verification_kind_identifier" json:"kind"`
	Identifier string         `gorm:"not null;index:idx_verification_kind_identifier" json:"identifier"`
	Token      *string        `gorm:"uniqueIndex" json:"-"`
	Payload    datatypes.JSON `json:"-"`
	ExpiresAt  time.Time      `gorm:"index" json:"expires_at"`
}

// Expired reports whether the token is past its absolute expiry.
func (t *VerificationToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// PendingRegistration is the not-yet-created account payload carried inside a
// pending_payload token row.
type PendingRegistration struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Encode serializes the pending registration for storage.
func (p PendingRegistration) Encode() (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodePendingRegistration parses a stored pending registration payload.
func DecodePendingRegistration(raw datatypes.JSON) (PendingRegistration, error) {
	var payload PendingRegistration
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PendingRegistration{}, err
	}
	return payload, nil
}
