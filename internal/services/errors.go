package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/stayline/stayline/pkg/errors"
)

// User-visible errors of the registration subsystem. Expired is distinct from
// NotFound because the remedy differs: an expired link means "register again",
// an unknown one means there is nothing to act on.
var (
	// ErrEmailRegistered indicates an account already exists for the email.
	ErrEmailRegistered = apperrors.New("REGISTRATION_EMAIL_TAKEN", "An account with this email already exists", http.StatusBadRequest)
	// ErrVerificationNotFound indicates the token is unknown or already consumed.
	ErrVerificationNotFound = apperrors.New("VERIFICATION_NOT_FOUND", "Verification link is invalid or has already been used", http.StatusBadRequest)
	// ErrVerificationExpired indicates the token is past its expiry.
	ErrVerificationExpired = apperrors.New("VERIFICATION_EXPIRED", "Verification link has expired, please register again", http.StatusBadRequest)
	// ErrVerificationDataMissing signals a pointer row without its payload row.
	ErrVerificationDataMissing = apperrors.New("VERIFICATION_DATA_MISSING", "Registration data could not be found, please register again", http.StatusBadRequest)
	// ErrEmailDispatch indicates the verification email could not be sent.
	ErrEmailDispatch = apperrors.New("EMAIL_DISPATCH_FAILED", "Could not send the verification email, please try again later", http.StatusInternalServerError)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
