package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Stripe event types acted on by the lifecycle.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
	EventChargeRefunded  = "charge.refunded"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        logrus.FieldLogger
	// Intents overrides the Stripe payment intents client.
	Intents stripePaymentIntentAPI
}

// StripeGateway implements Gateway on top of Stripe payment intents.
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	logger        logrus.FieldLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &StripeGateway{
		intents:       intents,
		webhookSecret: secret,
		logger:        logger.WithField("component", "stripe"),
	}, nil
}

// CreateIntent opens a payment intent with automatic payment methods.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(NormalizeCurrency(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": pi.ID,
		"amount":    pi.Amount,
		"currency":  pi.Currency,
	}).Info("payment intent created")
	return intentFromStripe(pi), nil
}

// RetrieveIntent fetches an existing payment intent.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Intent{}, errors.New("stripe: intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.intents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: get payment intent %s: %w", id, err)
	}
	return intentFromStripe(pi), nil
}

// ParseEvent verifies the Stripe-Signature header and normalises the event.
// Unknown event types decode with OutcomeIgnored.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type), Outcome: OutcomeIgnored}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.IntentID = pi.ID
		out.Amount = pi.Amount
		out.Currency = string(pi.Currency)
		out.Metadata = pi.Metadata
		switch out.Type {
		case EventIntentSucceeded:
			out.Outcome = OutcomePaid
		case EventIntentFailed:
			out.Outcome = OutcomeFailed
		default:
			out.Outcome = OutcomeCanceled
		}
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return Event{}, fmt.Errorf("stripe: decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		out.Amount = ch.Amount
		out.Currency = string(ch.Currency)
		out.Metadata = ch.Metadata
		out.Outcome = OutcomeRefunded
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}
}
