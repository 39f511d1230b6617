package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"glovendor/internal/auth"
	"glovendor/internal/directory"
	"glovendor/internal/payment"
	"glovendor/internal/pricing"
	"glovendor/internal/rbac"
	"glovendor/internal/reporting"
	"glovendor/internal/wallet"
	"glovendor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// The caller is always taken from the access token; ids, emails and roles in
// request bodies only select a target and are checked against it.
type Handlers struct {
	Wallet    *wallet.Service
	Directory *directory.Directory
	Payments  *payment.Service
	Pricing   *pricing.Service
	Reporting *reporting.Service

	// WebhookSecret verifies gateway callbacks.
	WebhookSecret string
	// Health reports storage readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// caller aborts with 401 when the request carries no identity.
func caller(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return auth.Identity{}, false
	}
	return id, true
}

// target resolves which account a request acts on. Without an identifier it
// is the caller. Non-admins may only name themselves.
func (h Handlers) target(ctx context.Context, id auth.Identity, identifier string) (int64, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || identifier == strconv.FormatInt(id.AccountID, 10) || strings.EqualFold(identifier, id.Email) {
		return id.AccountID, nil
	}
	if !rbac.IsAdmin(id.Role) {
		return 0, wallet.ErrForbidden
	}
	a, err := h.Directory.Resolve(ctx, identifier)
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func pathID(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return v, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	switch {
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, payment.ErrBelowMinimum),
		errors.Is(err, pricing.ErrInvalidMargin),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrInvalidPricingReq),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, directory.ErrInvalidIdentifier):
		status = http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrForbidden),
		errors.Is(err, wallet.ErrAccountInactive),
		errors.Is(err, pricing.ErrNotSupplier),
		errors.Is(err, pricing.ErrLevelNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, wallet.ErrAccountNotFound),
		errors.Is(err, wallet.ErrTransactionNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, payment.ErrAttemptNotFound),
		errors.Is(err, pricing.ErrPlanNotFound),
		errors.Is(err, pricing.ErrOfferNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wallet.ErrDuplicateReference),
		errors.Is(err, wallet.ErrInvalidStateTransition),
		errors.Is(err, payment.ErrStateConflict),
		errors.Is(err, payment.ErrDuplicateAttempt),
		errors.Is(err, pricing.ErrOfferExists),
		errors.Is(err, pricing.ErrPlanUnavailable):
		status = http.StatusConflict
	case errors.Is(err, payment.ErrTooManyPending):
		status = http.StatusTooManyRequests
	case errors.Is(err, payment.ErrGatewayRejected):
		status = http.StatusBadGateway
	case errors.Is(err, payment.ErrGatewayUnavailable):
		status = http.StatusServiceUnavailable
		body["retryable"] = true
	default:
		logger.FromGin(c).Error("request failed", "error", err)
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}
