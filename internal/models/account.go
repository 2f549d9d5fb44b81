package models

import "time"

// Account describes a hotel staff or guest account. Accounts are only
// materialised once the owner has proven control of the email address; a
// registration in flight lives in the verification token table instead.
type Account struct {
	BaseModel

	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	IsActive   bool       `gorm:"default:true" json:"is_active"`
	VerifiedAt *time.Time `json:"verified_at"`
}

// IsVerified reports whether the account has completed email verification.
func (a *Account) IsVerified() bool {
	return a.VerifiedAt != nil
}
