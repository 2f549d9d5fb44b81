package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stayline/stayline/internal/services"
	appErrors "github.com/stayline/stayline/pkg/errors"
	"github.com/stayline/stayline/pkg/metrics"
	"github.com/stayline/stayline/pkg/response"
)

// RegistrationHandler exposes the registration, resend, and verification endpoints.
type RegistrationHandler struct {
	svc *services.RegistrationService
}

// NewRegistrationHandler constructs a handler around the registration service.
func NewRegistrationHandler(svc *services.RegistrationService) (*RegistrationHandler, error) {
	if svc == nil {
		return nil, errors.New("registration handler: service is required")
	}
	return &RegistrationHandler{svc: svc}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// POST /api/auth/register
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		metrics.RegistrationAttempts.WithLabelValues("rejected").Inc()
		return
	}

	err := h.svc.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		metrics.RegistrationAttempts.WithLabelValues(registrationResult(err)).Inc()
		response.Error(c, err)
		return
	}

	metrics.RegistrationAttempts.WithLabelValues("accepted").Inc()
	response.Success(c, http.StatusCreated, gin.H{
		"message": "Registration received. Check your inbox for a verification link.",
	})
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/resend-verification
func (h *RegistrationHandler) Resend(c *gin.Context) {
	var req resendRequest
	if !bindAndValidate(c, &req) {
		metrics.ResendRequests.WithLabelValues("rejected").Inc()
		return
	}

	if err := h.svc.Resend(c.Request.Context(), req.Email); err != nil {
		metrics.ResendRequests.WithLabelValues(resendResult(err)).Inc()
		response.Error(c, err)
		return
	}

	// Same body whether a link was sent or the address is unknown.
	metrics.ResendRequests.WithLabelValues("sent").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"message": "If the email address needs verification, a new link has been sent.",
	})
}

// GET /api/auth/verify
func (h *RegistrationHandler) Verify(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		metrics.VerificationAttempts.WithLabelValues("rejected").Inc()
		response.Error(c, appErrors.NewBadRequest("token is required"))
		return
	}

	account, err := h.svc.Verify(c.Request.Context(), token)
	if err != nil {
		metrics.VerificationAttempts.WithLabelValues(verificationResult(err)).Inc()
		response.Error(c, err)
		return
	}

	metrics.VerificationAttempts.WithLabelValues("verified").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"message":     "Email address verified.",
		"email":       account.Email,
		"verified_at": account.VerifiedAt,
	})
}

func registrationResult(err error) string {
	switch {
	case errors.Is(err, services.ErrEmailRegistered):
		return "conflict"
	case errors.Is(err, services.ErrEmailDispatch):
		return "dispatch_failure"
	default:
		return "rejected"
	}
}

func resendResult(err error) string {
	if errors.Is(err, services.ErrVerificationExpired) {
		return "expired"
	}
	return "error"
}

func verificationResult(err error) string {
	switch {
	case errors.Is(err, services.ErrVerificationNotFound):
		return "not_found"
	case errors.Is(err, services.ErrVerificationExpired):
		return "expired"
	case errors.Is(err, services.ErrEmailRegistered):
		return "conflict"
	case errors.Is(err, services.ErrVerificationDataMissing):
		return "data_missing"
	default:
		return "error"
	}
}
