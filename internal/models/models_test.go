package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingRegistrationRoundTrip(t *testing.T) {
	payload := PendingRegistration{
		Name:         "Ada Lovelace",
		Email:        "ada@example.com",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
	}

	encoded, err := payload.Encode()
	require.NoError(t, err)

	decoded, err := DecodePendingRegistration(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestDecodePendingRegistrationRejectsGarbage(t *testing.T) {
	_, err := DecodePendingRegistration([]byte("{not json"))
	require.Error(t, err)
}

func TestVerificationTokenExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	token := VerificationToken{ExpiresAt: now.Add(time.Minute)}
	require.False(t, token.Expired(now))

	token.ExpiresAt = now.Add(-time.Minute)
	require.True(t, token.Expired(now))
}

func TestAccountIsVerified(t *testing.T) {
	account := Account{}
	require.False(t, account.IsVerified())

	now := time.Now()
	account.VerifiedAt = &now
	require.True(t, account.IsVerified())
}
