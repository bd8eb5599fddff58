package payment

import (
	"context"
	"errors"
	"fmt"
)

// Gateway wraps a remote payment provider. Every call may fail; use
// IsTransient to tell retryable failures from permanent ones.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Capture(ctx context.Context, remoteID string) (*Capture, error)
	Lookup(ctx context.Context, remoteID string) (*Intent, error)
}

type IntentStatus string

const (
	IntentCreated   IntentStatus = "CREATED"
	IntentApproved  IntentStatus = "APPROVED"
	IntentCompleted IntentStatus = "COMPLETED"
	IntentVoided    IntentStatus = "VOIDED"
)

const (
	IntentCapture      = "CAPTURE"
	ShippingNoShipping = "NO_SHIPPING"
)

// IntentRequest carries amounts already formatted to two decimals.
type IntentRequest struct {
	ReferenceID        string
	Currency           string
	Amount             string
	ItemTotal          string
	Items              []Item
	ReturnURL          string
	CancelURL          string
	ShippingPreference string
}

type Item struct {
	Name       string
	SKU        string
	UnitAmount string
	Quantity   int
}

type Intent struct {
	ID          string
	Status      IntentStatus
	ApprovalURL string
	PayerID     string
}

type Capture struct {
	ID        string
	Status    IntentStatus
	PayerID   string
	CaptureID string
}

var (
	ErrAlreadyCaptured = errors.New("payment already captured")
	ErrNotApproved     = errors.New("payment not approved by payer")
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrNoApprovalLink  = errors.New("approval link missing from gateway response")
)

// GatewayError describes a failed remote call.
type GatewayError struct {
	Op         string
	StatusCode int
	Issue      string
	Transient  bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Issue != "" {
		msg += ": " + e.Issue
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later. Context deadline
// expiry counts as permanent for the call that hit it.
func IsTransient(err error) bool {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Transient
	}
	return false
}
