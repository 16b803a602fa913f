package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"harmoni-service/internal/config"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification against the shared endpoint secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Intent is the processor's view of a created payment intent. The initial
// status depends on the payment method and is never assumed locally.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Event is a verified webhook notification about an intent status change.
type Event struct {
	ID           string
	Type         string
	IntentID     string
	IntentStatus string
}

type StripeClient struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
}

func NewStripeClient(cfg config.Stripe, logger *slog.Logger) *StripeClient {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeClient{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

func (c *StripeClient) CreateIntent(ctx context.Context, amount int, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		Amount:   stripe.Int64(int64(amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	intent, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "creating payment intent")
	}

	c.logger.InfoContext(ctx, "Payment intent created",
		"intentId", intent.ID, "amount", amount, "currency", currency, "status", intent.Status)

	return &Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// VerifyAndParseWebhook checks the Stripe-Signature header against the raw
// body and extracts the intent reference. Non payment_intent events come
// back with an empty IntentID.
func (c *StripeClient) VerifyAndParseWebhook(payload []byte, sigHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, sigHeader, c.webhookSecret)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(stripeEvent.Data.Raw, &intent); err == nil && intent.ID != "" {
		event.IntentID = intent.ID
		event.IntentStatus = string(intent.Status)
	}

	return event, nil
}
