package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stayline/stayline/internal/models"
	"github.com/stayline/stayline/pkg/crypto"
	apperrors "github.com/stayline/stayline/pkg/errors"
	"github.com/stayline/stayline/pkg/logger"
	"github.com/stayline/stayline/pkg/mail"
)

const minPasswordLength = 8

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithRegistrationBaseURL sets the base URL used in verification links.
func WithRegistrationBaseURL(url string) RegistrationOption {
	return func(s *RegistrationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RegistrationService implements deferred account creation: no account row is
// written until the owner redeems the verification token emailed to them.
type RegistrationService struct {
	db      *gorm.DB
	tokens  *VerificationTokenService
	mailer  mail.Mailer
	baseURL string
	now     func() time.Time
	log     *zap.Logger
}

// NewRegistrationService constructs a registration service with the provided dependencies.
func NewRegistrationService(db *gorm.DB, tokens *VerificationTokenService, mailer mail.Mailer, opts ...RegistrationOption) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("registration service: token service is required")
	}

	service := &RegistrationService{
		db:     db,
		tokens: tokens,
		mailer: mailer,
		now:    time.Now,
		log:    logger.WithModule("registration"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// RegisterInput describes the fields accepted when registering an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register validates the input, stores a pending registration token pair, and
// emails the verification link. The account itself is not created here.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) error {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if name == "" {
		return apperrors.NewBadRequest("name is required")
	}
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}
	if len(input.Password) < minPasswordLength {
		return apperrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	if _, err := s.findAccountByEmail(ctx, email); err == nil {
		return ErrEmailRegistered
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("registration service: lookup account: %w", err)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return fmt.Errorf("registration service: hash password: %w", err)
	}

	token, _, err := s.tokens.IssuePending(ctx, email, models.PendingRegistration{
		Name:         name,
		Email:        email,
		PasswordHash: hashed,
	})
	if err != nil {
		return err
	}

	// Token rows are written before dispatch on purpose: a failed send leaves
	// a redeemable token recoverable through the resend flow.
	if err := s.dispatchVerification(ctx, email, token); err != nil {
		return ErrEmailDispatch.WithInternal(err)
	}

	return nil
}

// Resend re-issues a verification token for an email. The response shape never
// discloses whether the email is known: unknown addresses and already verified
// accounts both yield a nil error and no email.
func (s *RegistrationService) Resend(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperrors.NewBadRequest("email is required")
	}

	pointer, err := s.tokens.FindPendingPointer(ctx, email)
	switch {
	case err == nil:
		return s.resendPending(ctx, email, pointer)
	case errors.Is(err, ErrVerificationNotFound):
		return s.resendStanding(ctx, email)
	default:
		return err
	}
}

func (s *RegistrationService) resendPending(ctx context.Context, email string, pointer *models.VerificationToken) error {
	if pointer.Token == nil {
		s.log.Error("pending pointer row has no secret", zap.String("email", email))
		return ErrVerificationDataMissing
	}

	if pointer.Expired(s.now()) {
		if err := s.tokens.DeleteBySecret(ctx, *pointer.Token); err != nil {
			return err
		}
		return ErrVerificationExpired
	}

	payloadRow, err := s.tokens.FindPendingPayload(ctx, *pointer.Token)
	if errors.Is(err, ErrVerificationNotFound) {
		// A pointer without its payload means a partial write happened at some
		// point. Remove the stray row and ask the caller to start over.
		s.log.Error("pending payload row missing", zap.String("email", email))
		if delErr := s.tokens.DeleteBySecret(ctx, *pointer.Token); delErr != nil {
			return delErr
		}
		return ErrVerificationDataMissing
	}
	if err != nil {
		return err
	}

	token, _, err := s.tokens.ReissuePending(ctx, email, payloadRow.Payload)
	if err != nil {
		return err
	}

	if err := s.dispatchVerification(ctx, email, token); err != nil {
		return ErrEmailDispatch.WithInternal(err)
	}
	return nil
}

func (s *RegistrationService) resendStanding(ctx context.Context, email string) error {
	account, err := s.findAccountByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deliberate: do not reveal that the address is unknown.
		return nil
	}
	if err != nil {
		return fmt.Errorf("registration service: lookup account: %w", err)
	}

	if account.IsVerified() {
		// Same silence as the unknown-address case to keep disclosure uniform.
		return nil
	}

	token, _, err := s.tokens.IssueStanding(ctx, email)
	if err != nil {
		return err
	}

	if err := s.dispatchVerification(ctx, email, token); err != nil {
		return ErrEmailDispatch.WithInternal(err)
	}
	return nil
}

// Verify consumes a verification token. A pending-registration token
// materializes the account and deletes the pair; a standing token flips the
// account's verified flag. Redemption is single use: a replayed token finds
// no rows and fails.
func (s *RegistrationService) Verify(ctx context.Context, rawToken string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, apperrors.NewBadRequest("token is required")
	}

	record, err := s.tokens.FindBySecret(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	// Expiry is checked before branching on kind so an expired pending token
	// never reaches account creation.
	if record.Expired(s.now()) {
		if err := s.tokens.DeleteBySecret(ctx, rawToken); err != nil {
			return nil, err
		}
		return nil, ErrVerificationExpired
	}

	switch record.Kind {
	case models.TokenKindPendingPointer:
		return s.verifyPending(ctx, rawToken)
	case models.TokenKindStanding:
		return s.verifyStanding(ctx, record)
	default:
		return nil, ErrVerificationNotFound
	}
}

func (s *RegistrationService) verifyPending(ctx context.Context, rawToken string) (*models.Account, error) {
	payloadRow, err := s.tokens.FindPendingPayload(ctx, rawToken)
	if errors.Is(err, ErrVerificationNotFound) {
		s.log.Error("pending payload row missing on redemption")
		if delErr := s.tokens.DeleteBySecret(ctx, rawToken); delErr != nil {
			return nil, delErr
		}
		return nil, ErrVerificationDataMissing
	}
	if err != nil {
		return nil, err
	}

	payload, err := models.DecodePendingRegistration(payloadRow.Payload)
	if err != nil {
		s.log.Error("pending payload undecodable", zap.Error(err))
		if delErr := s.tokens.DeleteBySecret(ctx, rawToken); delErr != nil {
			return nil, delErr
		}
		return nil, ErrVerificationDataMissing
	}

	now := s.now()
	var (
		created       *models.Account
		alreadyExists bool
	)

	// Existence check, account creation, and pair deletion form one unit of
	// work. The unique email index backstops a race between two redemptions
	// carrying the same address.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Account
		lookupErr := tx.Where("email = ?", payload.Email).First(&existing).Error
		switch {
		case lookupErr == nil:
			alreadyExists = true
		case !errors.Is(lookupErr, gorm.ErrRecordNotFound):
			return lookupErr
		}

		if err := tx.
			Where("token = ?", rawToken).
			Delete(&models.VerificationToken{}).Error; err != nil {
			return err
		}
		if err := tx.
			Where("kind = ? AND identifier = ?", models.TokenKindPendingPayload, rawToken).
			Delete(&models.VerificationToken{}).Error; err != nil {
			return err
		}

		if alreadyExists {
			return nil
		}

		account := models.Account{
			Name:       payload.Name,
			Email:      payload.Email,
			Password:   payload.PasswordHash,
			IsActive:   true,
			VerifiedAt: &now,
		}
		if err := tx.Create(&account).Error; err != nil {
			if isUniqueConstraintError(err) {
				alreadyExists = true
				return nil
			}
			return err
		}

		created = &account
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registration service: materialize account: %w", err)
	}

	if alreadyExists {
		return nil, ErrEmailRegistered
	}
	return created, nil
}

func (s *RegistrationService) verifyStanding(ctx context.Context, record *models.VerificationToken) (*models.Account, error) {
	now := s.now()
	var account models.Account

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", record.Identifier).First(&account).Error; err != nil {
			return err
		}

		if err := tx.Model(&account).
			Update("verified_at", now).Error; err != nil {
			return err
		}

		return tx.
			Where("id = ?", record.ID).
			Delete(&models.VerificationToken{}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Token outlived its account. Drop it and report the link as dead.
		if delErr := s.db.WithContext(ctx).
			Where("id = ?", record.ID).
			Delete(&models.VerificationToken{}).Error; delErr != nil {
			return nil, fmt.Errorf("registration service: drop orphaned token: %w", delErr)
		}
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration service: verify standing account: %w", err)
	}

	account.VerifiedAt = &now
	return &account, nil
}

func (s *RegistrationService) findAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *RegistrationService) dispatchVerification(ctx context.Context, email, token string) error {
	if s.mailer == nil {
		return nil
	}

	message := mail.Message{
		To:      []string{email},
		Subject: "Confirm your Stayline account",
		Body:    s.verificationBody(s.verificationLink(token)),
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return err
	}
	return nil
}

func (s *RegistrationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, token)
}

func (s *RegistrationService) verificationBody(link string) string {
	return fmt.Sprintf("Welcome to Stayline!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nIf you did not create an account, you can ignore this message.\n", link)
}
