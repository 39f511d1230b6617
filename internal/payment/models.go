package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// State of a funding attempt.
type State string

const (
	StateInitiated           State = "INITIATED"
	StatePendingVerification State = "PENDING_VERIFICATION"
	StateSettled             State = "SETTLED"
	StateFailed              State = "FAILED"
)

// Open reports whether the attempt can still settle or fail.
func (s State) Open() bool {
	return s == StateInitiated || s == StatePendingVerification
}

// Attempt tracks one gateway checkout from initiation to a terminal state.
type Attempt struct {
	Reference        string          `json:"reference"`
	AccountID        int64           `json:"account_id"`
	Amount           decimal.Decimal `json:"amount"`
	State            State           `json:"state"`
	AuthorizationURL string          `json:"authorization_url"`
	GatewayStatus    string          `json:"gateway_status,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	TransactionID    int64           `json:"transaction_id,omitempty"`
	VerifyAttempts   int             `json:"verify_attempts"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

const FailureExpired = "expired"

var (
	ErrBelowMinimum       = errors.New("amount below minimum funding amount")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrAttemptNotFound    = errors.New("funding attempt not found")
	ErrDuplicateAttempt   = errors.New("funding attempt already exists")
	ErrStateConflict      = errors.New("funding attempt changed concurrently")
	ErrTooManyPending     = errors.New("too many checkouts in progress")
)

// Gateway statuses as reported by the provider.
const (
	GatewaySuccess   = "success"
	GatewayFailed    = "failed"
	GatewayAbandoned = "abandoned"
	GatewayReversed  = "reversed"
	GatewayPending   = "pending"
)

// Gateway is the provider-agnostic checkout API. Adapters live in
// sub-packages; no provider SDK calls happen outside them.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req CheckoutRequest) (Checkout, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

type CheckoutRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	CallbackURL string
}

type Checkout struct {
	AuthorizationURL string
	AccessCode       string
	// Reference echoed by the gateway; empty means the requested one stands.
	Reference string
}

type Verification struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
	PaidAt    time.Time
	Message   string
}
