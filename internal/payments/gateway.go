package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "usd"

// ErrInvalidSignature is returned when a callback payload fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// Outcome is the normalised meaning of a gateway callback.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeFailed   Outcome = "failed"
	OutcomeRefunded Outcome = "refunded"
	// OutcomeCanceled means the intent was abandoned. It only affects orders.
	OutcomeCanceled Outcome = "canceled"
	// OutcomeIgnored marks event types the lifecycle does not act on.
	OutcomeIgnored Outcome = "ignored"
)

// PaymentStatus maps the outcome onto a subject's payment status. The
// boolean is false for outcomes that carry no payment status.
func (o Outcome) PaymentStatus() (models.PaymentStatus, bool) {
	switch o {
	case OutcomePaid:
		return models.PaymentPaid, true
	case OutcomeFailed:
		return models.PaymentFailed, true
	case OutcomeRefunded:
		return models.PaymentRefunded, true
	default:
		return "", false
	}
}

// IntentRequest describes a payment intent to open.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the gateway's view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
}

// Event is a verified gateway callback.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Outcome  Outcome
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Gateway is the external payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
	// ParseEvent verifies the signature over the raw payload and decodes it.
	ParseEvent(payload []byte, signature string) (Event, error)
}

// ToMinorUnits converts a decimal amount to the smallest currency unit,
// rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// NormalizeCurrency lowercases the currency code, falling back to DefaultCurrency.
func NormalizeCurrency(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}
