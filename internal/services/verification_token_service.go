package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stayline/stayline/internal/models"
	"github.com/stayline/stayline/pkg/crypto"
)

const (
	defaultTokenExpiry = 24 * time.Hour
	defaultTokenBytes  = 32
)

// TokenOption customises the VerificationTokenService.
type TokenOption func(*VerificationTokenService)

// WithTokenExpiry overrides the token lifetime.
func WithTokenExpiry(d time.Duration) TokenOption {
	return func(s *VerificationTokenService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithTokenBytes adjusts the number of random bytes in generated tokens.
func WithTokenBytes(size int) TokenOption {
	return func(s *VerificationTokenService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithTokenClock injects a custom time source.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(s *VerificationTokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationTokenService issues and stores verification tokens. A pending
// registration is represented by a pair of rows written in one transaction: a
// pointer row keyed by the claimed email and a payload row keyed by the
// secret. Standing verifications are a single row keyed by the account email.
type VerificationTokenService struct {
	db          *gorm.DB
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewVerificationTokenService constructs a token service with the provided dependencies.
func NewVerificationTokenService(db *gorm.DB, opts ...TokenOption) (*VerificationTokenService, error) {
	if db == nil {
		return nil, errors.New("verification token service: db is required")
	}

	service := &VerificationTokenService{
		db:          db,
		expiry:      defaultTokenExpiry,
		tokenLength: defaultTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// IssuePending writes a fresh pointer/payload pair for the email, replacing
// any live pair so at most one pending registration exists per address.
func (s *VerificationTokenService) IssuePending(ctx context.Context, email string, payload models.PendingRegistration) (string, time.Time, error) {
	raw, err := payload.Encode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification token service: encode payload: %w", err)
	}
	return s.issuePendingRaw(ctx, email, raw)
}

// ReissuePending replaces the pair for the email with a new secret while
// carrying the stored payload over verbatim.
func (s *VerificationTokenService) ReissuePending(ctx context.Context, email string, payload datatypes.JSON) (string, time.Time, error) {
	return s.issuePendingRaw(ctx, email, payload)
}

func (s *VerificationTokenService) issuePendingRaw(ctx context.Context, email string, raw datatypes.JSON) (string, time.Time, error) {
	ctx = ensureContext(ctx)

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification token service: generate token: %w", err)
	}
	expires := s.now().Add(s.expiry)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deletePendingPair(tx, email); err != nil {
			return err
		}

		pointer := models.VerificationToken{
			Kind:       models.TokenKindPendingPointer,
			Identifier: email,
			Token:      &token,
			ExpiresAt:  expires,
		}
		if err := tx.Create(&pointer).Error; err != nil {
			return err
		}

		payloadRow := models.VerificationToken{
			Kind:       models.TokenKindPendingPayload,
			Identifier: token,
			Payload:    raw,
			ExpiresAt:  expires,
		}
		return tx.Create(&payloadRow).Error
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification token service: issue pending pair: %w", err)
	}

	return token, expires, nil
}

// IssueStanding writes a verification token for an existing unverified
// account, superseding any prior standing token for the email.
func (s *VerificationTokenService) IssueStanding(ctx context.Context, email string) (string, time.Time, error) {
	ctx = ensureContext(ctx)

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification token service: generate token: %w", err)
	}
	expires := s.now().Add(s.expiry)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("kind = ? AND identifier = ?", models.TokenKindStanding, email).
			Delete(&models.VerificationToken{}).Error; err != nil {
			return err
		}

		record := models.VerificationToken{
			Kind:       models.TokenKindStanding,
			Identifier: email,
			Token:      &token,
			ExpiresAt:  expires,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification token service: issue standing token: %w", err)
	}

	return token, expires, nil
}

// FindBySecret looks up a standing or pointer row by its token value.
func (s *VerificationTokenService) FindBySecret(ctx context.Context, token string) (*models.VerificationToken, error) {
	ctx = ensureContext(ctx)

	var record models.VerificationToken
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("verification token service: find by secret: %w", err)
	}
	return &record, nil
}

// FindPendingPointer looks up the live pointer row for an email, if any.
func (s *VerificationTokenService) FindPendingPointer(ctx context.Context, email string) (*models.VerificationToken, error) {
	ctx = ensureContext(ctx)

	var record models.VerificationToken
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND identifier = ?", models.TokenKindPendingPointer, email).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("verification token service: find pending pointer: %w", err)
	}
	return &record, nil
}

// FindPendingPayload looks up the payload row paired with a secret.
func (s *VerificationTokenService) FindPendingPayload(ctx context.Context, token string) (*models.VerificationToken, error) {
	ctx = ensureContext(ctx)

	var record models.VerificationToken
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND identifier = ?", models.TokenKindPendingPayload, token).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("verification token service: find pending payload: %w", err)
	}
	return &record, nil
}

// DeleteBySecret removes the row holding the secret together with its payload
// co-row, if one exists. Used for expiry discovery and integrity cleanup.
func (s *VerificationTokenService) DeleteBySecret(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("token = ?", token).
			Delete(&models.VerificationToken{}).Error; err != nil {
			return err
		}
		return tx.
			Where("kind = ? AND identifier = ?", models.TokenKindPendingPayload, token).
			Delete(&models.VerificationToken{}).Error
	})
	if err != nil {
		return fmt.Errorf("verification token service: delete by secret: %w", err)
	}
	return nil
}

// CleanupExpired removes every token row past its expiry. Payload rows share
// their pointer's expiry, so a blanket delete never splits a live pair.
func (s *VerificationTokenService) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.VerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("verification token service: cleanup expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// deletePendingPair removes the pointer row for an email and its payload
// co-rows inside the caller's transaction.
func deletePendingPair(tx *gorm.DB, email string) error {
	var pointers []models.VerificationToken
	if err := tx.
		Where("kind = ? AND identifier = ?", models.TokenKindPendingPointer, email).
		Find(&pointers).Error; err != nil {
		return err
	}
	if len(pointers) == 0 {
		return nil
	}

	for _, pointer := range pointers {
		if pointer.Token == nil {
			continue
		}
		if err := tx.
			Where("kind = ? AND identifier = ?", models.TokenKindPendingPayload, *pointer.Token).
			Delete(&models.VerificationToken{}).Error; err != nil {
			return err
		}
	}

	return tx.
		Where("kind = ? AND identifier = ?", models.TokenKindPendingPointer, email).
		Delete(&models.VerificationToken{}).Error
}
