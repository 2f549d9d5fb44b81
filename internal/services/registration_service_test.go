package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stayline/stayline/internal/database/testutil"
	"github.com/stayline/stayline/internal/models"
	"github.com/stayline/stayline/pkg/crypto"
	"github.com/stayline/stayline/pkg/mail"
)

type recordingMailer struct {
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

type registrationHarness struct {
	db      *gorm.DB
	svc     *RegistrationService
	tokens  *VerificationTokenService
	mailer  *recordingMailer
	current time.Time
}

func newRegistrationHarness(t *testing.T) *registrationHarness {
	t.Helper()

	h := &registrationHarness{
		db:      testutil.MustOpenTestDB(t),
		mailer:  &recordingMailer{},
		current: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.current }

	tokens, err := NewVerificationTokenService(h.db, WithTokenClock(clock))
	require.NoError(t, err)
	h.tokens = tokens

	svc, err := NewRegistrationService(h.db, tokens, h.mailer,
		WithRegistrationBaseURL("https://stayline.example.com/verify"),
		WithRegistrationClock(clock),
	)
	require.NoError(t, err)
	h.svc = svc

	return h
}

func (h *registrationHarness) pendingToken(t *testing.T, email string) string {
	t.Helper()

	var pointer models.VerificationToken
	require.NoError(t, h.db.Where("kind = ? AND identifier = ?", models.TokenKindPendingPointer, email).First(&pointer).Error)
	require.NotNil(t, pointer.Token)
	return *pointer.Token
}

func (h *registrationHarness) standingToken(t *testing.T, email string) string {
	t.Helper()

	var record models.VerificationToken
	require.NoError(t, h.db.Where("kind = ? AND identifier = ?", models.TokenKindStanding, email).First(&record).Error)
	require.NotNil(t, record.Token)
	return *record.Token
}

func (h *registrationHarness) accountCount(t *testing.T) int64 {
	t.Helper()

	var count int64
	require.NoError(t, h.db.Model(&models.Account{}).Count(&count).Error)
	return count
}

func (h *registrationHarness) tokenCount(t *testing.T) int64 {
	t.Helper()

	var count int64
	require.NoError(t, h.db.Model(&models.VerificationToken{}).Count(&count).Error)
	return count
}

func validInput() RegisterInput {
	return RegisterInput{Name: "A", Email: "a@x.com", Password: "longenough1"}
}

func TestRegisterWritesPairAndNoAccount(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))

	require.EqualValues(t, 2, h.tokenCount(t))
	require.EqualValues(t, 0, h.accountCount(t))

	require.Len(t, h.mailer.messages, 1)
	require.Equal(t, []string{"a@x.com"}, h.mailer.messages[0].To)
	require.Contains(t, h.mailer.messages[0].Body, h.pendingToken(t, "a@x.com"))
}

func TestRegisterValidation(t *testing.T) {
	h := newRegistrationHarness(t)

	cases := []RegisterInput{
		{Name: "", Email: "a@x.com", Password: "longenough1"},
		{Name: "A", Email: "", Password: "longenough1"},
		{Name: "A", Email: "a@x.com", Password: "short"},
	}
	for _, input := range cases {
		err := h.svc.Register(context.Background(), input)
		require.Error(t, err)
	}

	require.EqualValues(t, 0, h.tokenCount(t))
	require.Empty(t, h.mailer.messages)
}

func TestRegisterConflictOnExistingAccount(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.db.Create(&models.Account{Name: "A", Email: "a@x.com", Password: "hash"}).Error)

	err := h.svc.Register(context.Background(), validInput())
	require.ErrorIs(t, err, ErrEmailRegistered)

	require.EqualValues(t, 0, h.tokenCount(t))
	require.Empty(t, h.mailer.messages)
}

func TestRegisterDispatchFailureKeepsTokens(t *testing.T) {
	h := newRegistrationHarness(t)
	h.mailer.err = errors.New("smtp down")

	err := h.svc.Register(context.Background(), validInput())
	require.ErrorIs(t, err, ErrEmailDispatch)

	// The pair stays redeemable so the resend flow can recover it.
	require.EqualValues(t, 2, h.tokenCount(t))
}

func TestVerifyPendingCreatesAccountOnce(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))
	token := h.pendingToken(t, "a@x.com")

	account, err := h.svc.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", account.Email)
	require.NotNil(t, account.VerifiedAt)
	require.NotEqual(t, "longenough1", account.Password)
	require.True(t, crypto.VerifyPassword(account.Password, "longenough1"))

	require.EqualValues(t, 0, h.tokenCount(t))
	require.EqualValues(t, 1, h.accountCount(t))

	// Redemption is single use.
	_, err = h.svc.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrVerificationNotFound)
	require.EqualValues(t, 1, h.accountCount(t))
}

func TestVerifyExpiredPending(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))
	token := h.pendingToken(t, "a@x.com")

	h.current = h.current.Add(25 * time.Hour)

	_, err := h.svc.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrVerificationExpired)

	require.EqualValues(t, 0, h.tokenCount(t))
	require.EqualValues(t, 0, h.accountCount(t))
}

func TestVerifyPendingRaceGuard(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))
	token := h.pendingToken(t, "a@x.com")

	// A competing redemption for the same address won the race.
	require.NoError(t, h.db.Create(&models.Account{Name: "A", Email: "a@x.com", Password: "hash"}).Error)

	_, err := h.svc.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrEmailRegistered)

	require.EqualValues(t, 0, h.tokenCount(t))
	require.EqualValues(t, 1, h.accountCount(t))
}

func TestVerifyUnknownToken(t *testing.T) {
	h := newRegistrationHarness(t)

	_, err := h.svc.Verify(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrVerificationNotFound)
}

func TestResendPendingRotatesToken(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))
	oldToken := h.pendingToken(t, "a@x.com")

	require.NoError(t, h.svc.Resend(context.Background(), "a@x.com"))

	newToken := h.pendingToken(t, "a@x.com")
	require.NotEqual(t, oldToken, newToken)
	require.Len(t, h.mailer.messages, 2)

	_, err := h.svc.Verify(context.Background(), oldToken)
	require.ErrorIs(t, err, ErrVerificationNotFound)

	// The payload is carried over verbatim: the new token still decodes to the
	// originally submitted name, email, and hash.
	account, err := h.svc.Verify(context.Background(), newToken)
	require.NoError(t, err)
	require.Equal(t, "A", account.Name)
	require.Equal(t, "a@x.com", account.Email)
	require.True(t, crypto.VerifyPassword(account.Password, "longenough1"))
}

func TestResendExpiredPending(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))

	h.current = h.current.Add(25 * time.Hour)

	err := h.svc.Resend(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrVerificationExpired)

	require.EqualValues(t, 0, h.tokenCount(t))
	require.Len(t, h.mailer.messages, 1)
}

func TestResendPendingMissingPayload(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Register(context.Background(), validInput()))
	token := h.pendingToken(t, "a@x.com")

	require.NoError(t, h.db.
		Where("kind = ? AND identifier = ?", models.TokenKindPendingPayload, token).
		Delete(&models.VerificationToken{}).Error)

	err := h.svc.Resend(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrVerificationDataMissing)

	require.EqualValues(t, 0, h.tokenCount(t))
}

func TestResendUnknownEmailStaysSilent(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.svc.Resend(context.Background(), "nobody@x.com"))
	require.Empty(t, h.mailer.messages)
	require.EqualValues(t, 0, h.tokenCount(t))
}

func TestResendVerifiedAccountStaysSilent(t *testing.T) {
	h := newRegistrationHarness(t)

	verifiedAt := h.current
	require.NoError(t, h.db.Create(&models.Account{
		Name: "A", Email: "a@x.com", Password: "hash", VerifiedAt: &verifiedAt,
	}).Error)

	require.NoError(t, h.svc.Resend(context.Background(), "a@x.com"))
	require.Empty(t, h.mailer.messages)
	require.EqualValues(t, 0, h.tokenCount(t))
}

func TestResendUnverifiedStandingAccount(t *testing.T) {
	h := newRegistrationHarness(t)

	require.NoError(t, h.db.Create(&models.Account{Name: "A", Email: "a@x.com", Password: "hash"}).Error)

	require.NoError(t, h.svc.Resend(context.Background(), "a@x.com"))
	require.Len(t, h.mailer.messages, 1)

	token := h.standingToken(t, "a@x.com")
	account, err := h.svc.Verify(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, account.VerifiedAt)

	require.EqualValues(t, 0, h.tokenCount(t))

	_, err = h.svc.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrVerificationNotFound)
}
