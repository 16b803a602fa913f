package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"harmoni-service/internal/db"
	"harmoni-service/internal/download"
	"harmoni-service/internal/event"
	"harmoni-service/internal/logcontext"
	"harmoni-service/internal/mailer"
	"harmoni-service/internal/processor"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const defaultCurrency = "usd"

var (
	// ErrUserNotVerified rejects intent creation for unknown or unverified
	// purchasers.
	ErrUserNotVerified = errors.New("user email not verified")
	// ErrTariffNotFound rejects intent creation for missing tariffs.
	ErrTariffNotFound = errors.New("tariff not found")
	// ErrPaymentNotFound is returned by status lookups for unknown payments.
	ErrPaymentNotFound = errors.New("payment not found")
)

var (
	intentCreatedCounter   = metrics.GetOrCreateCounter(`payment_intents_total{result="created"}`)
	intentRejectedCounter  = metrics.GetOrCreateCounter(`payment_intents_total{result="rejected"}`)
	intentUpstreamCounter  = metrics.GetOrCreateCounter(`payment_intents_total{result="processor_error"}`)

	webhookAppliedCounter    = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="applied"}`)
	webhookDuplicateCounter  = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="duplicate"}`)
	webhookTerminalCounter   = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="already_terminal"}`)
	webhookUntrackedCounter  = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="untracked"}`)
	webhookIgnoredCounter    = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="ignored"}`)
	webhookErrorCounter      = metrics.GetOrCreateCounter(`stripe_webhook_events_total{result="error"}`)
	webhookDurationHistogram = metrics.GetOrCreateHistogram(`stripe_webhook_duration_milliseconds`)
)

// Processor is the external payment gateway the service talks to.
type Processor interface {
	CreateIntent(ctx context.Context, amount int, currency string, metadata map[string]string) (*processor.Intent, error)
	VerifyAndParseWebhook(payload []byte, sigHeader string) (*processor.Event, error)
}

type entitlementIssuer interface {
	Issue(ctx context.Context, payment *db.PaymentEntity, email string) ([]download.Link, error)
}

type transitionPublisher interface {
	Publish(ctx context.Context, transition event.PaymentTransition) error
}

// Service owns the payment lifecycle: intent creation and webhook
// reconciliation. It is the only writer of payment status.
type Service struct {
	payments  *db.PaymentRepository
	users     *db.UserRepository
	tariffs   *db.TariffRepository
	processor Processor
	issuer    entitlementIssuer
	mailer    mailer.Mailer
	publisher transitionPublisher
	logger    *slog.Logger
}

func NewService(
	payments *db.PaymentRepository,
	users *db.UserRepository,
	tariffs *db.TariffRepository,
	proc Processor,
	issuer entitlementIssuer,
	m mailer.Mailer,
	publisher transitionPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		payments:  payments,
		users:     users,
		tariffs:   tariffs,
		processor: proc,
		issuer:    issuer,
		mailer:    m,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateIntent validates the purchaser and tariff, creates the external
// intent and persists the local payment record with whatever initial status
// the processor reports. No entitlement is created here.
func (s *Service) CreateIntent(ctx context.Context, email string, tariffID uuid.UUID) (*db.PaymentEntity, string, error) {
	user, err := s.users.SelectByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil || !user.IsVerified {
		intentRejectedCounter.Inc()
		return nil, "", errors.Wrap(ErrUserNotVerified, email)
	}

	tariff, err := s.tariffs.SelectByID(ctx, tariffID)
	if err != nil {
		return nil, "", err
	}
	if tariff == nil {
		intentRejectedCounter.Inc()
		return nil, "", errors.Wrap(ErrTariffNotFound, tariffID.String())
	}

	metadata := map[string]string{
		"email":       email,
		"user_id":     user.ID.String(),
		"tariff_id":   tariffID.String(),
		"tariff_name": tariff.Name,
	}

	intent, err := s.processor.CreateIntent(ctx, tariff.BasePrice, defaultCurrency, metadata)
	if err != nil {
		intentUpstreamCounter.Inc()
		return nil, "", errors.Wrap(err, "creating intent with processor")
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshalling payment metadata")
	}
	metadataStr := string(metadataJSON)

	entity := &db.PaymentEntity{
		ID:               uuid.New(),
		ProviderIntentID: intent.ID,
		UserID:           user.ID,
		TariffID:         &tariffID,
		Amount:           tariff.BasePrice,
		Currency:         defaultCurrency,
		Status:           intent.Status,
		Metadata:         &metadataStr,
	}

	if _, err := s.payments.Create(ctx, entity); err != nil {
		return nil, "", err
	}

	intentCreatedCounter.Inc()
	s.logger.InfoContext(ctx, "Payment created",
		"paymentId", entity.ID, "intentId", intent.ID, "amount", entity.Amount, "tariffName", tariff.Name)

	return entity, intent.ClientSecret, nil
}

// GetPayment returns the payment for a status lookup.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*db.PaymentEntity, error) {
	payment, err := s.payments.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, errors.Wrap(ErrPaymentNotFound, id.String())
	}
	return payment, nil
}

// ProcessWebhook reconciles one webhook delivery against local state.
//
// The processor delivers at least once and in no particular order, so
// correctness rests on two guards applied under a row lock: the event-id
// dedupe ledger, and the terminal-status check. An error return means the
// event was not durably processed and the caller must answer non-2xx so the
// processor redelivers.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	startTime := time.Now()
	defer func() {
		webhookDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ev, err := s.processor.VerifyAndParseWebhook(payload, sigHeader)
	if err != nil {
		return err
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("eventId", ev.ID), slog.String("eventType", ev.Type))

	if !strings.HasPrefix(ev.Type, eventTypePrefix) || ev.IntentID == "" {
		s.logger.InfoContext(ctx, "Ignoring unhandled webhook event type")
		webhookIgnoredCounter.Inc()
		return nil
	}

	newStatus := DeriveStatus(ev)
	applied, payment, err := s.applyTransition(ctx, ev, newStatus)
	if err != nil {
		webhookErrorCounter.Inc()
		return err
	}
	if !applied {
		return nil
	}

	s.dispatchSideEffects(ctx, payment, newStatus)
	return nil
}

// applyTransition performs the transactional part of reconciliation: event
// dedupe, row lock, terminal guard and the status update. It reports whether
// a transition was applied; the returned payment carries the pre-transition
// status.
func (s *Service) applyTransition(ctx context.Context, ev *processor.Event, newStatus string) (bool, *db.PaymentEntity, error) {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return false, nil, errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	inserted, err := s.payments.InsertWebhookEvent(ctx, tx, ev.ID, ev.Type)
	if err != nil {
		return false, nil, err
	}
	if !inserted {
		s.logger.InfoContext(ctx, "Duplicate webhook event, skipping")
		webhookDuplicateCounter.Inc()
		return false, nil, nil
	}

	payment, err := s.payments.SelectForUpdateByIntentID(ctx, tx, ev.IntentID)
	if err != nil {
		return false, nil, err
	}
	if payment == nil {
		// Intent unknown locally: possibly not ours, possibly delivered
		// before the local record was committed. The rollback leaves the
		// event id unconsumed so a redelivery can still land later.
		s.logger.WarnContext(ctx, "Payment not found for intent, ignoring", "intentId", ev.IntentID)
		webhookUntrackedCounter.Inc()
		return false, nil, nil
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", payment.ID.String()))

	if IsTerminal(payment.Status) {
		// The record keeps its terminal status, the event id is kept in the
		// ledger. No side effects for redelivered or late events.
		s.logger.InfoContext(ctx, "Payment already terminal, skipping",
			"status", payment.Status, "incomingStatus", newStatus)
		webhookTerminalCounter.Inc()
		if err := tx.Commit(ctx); err != nil {
			return false, nil, errors.Wrap(err, "committing dedupe record")
		}
		return false, nil, nil
	}

	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, newStatus); err != nil {
		return false, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, errors.Wrap(err, "committing status transition")
	}

	s.logger.InfoContext(ctx, "Payment status updated",
		"fromStatus", payment.Status, "toStatus", newStatus)
	webhookAppliedCounter.Inc()
	return true, payment, nil
}

// dispatchSideEffects runs after the transition is committed. Failures here
// are logged and never surfaced: the payment outcome is already recorded
// and must not be reversed by a downstream notification problem.
func (s *Service) dispatchSideEffects(ctx context.Context, payment *db.PaymentEntity, newStatus string) {
	if err := s.publisher.Publish(ctx, event.PaymentTransition{
		PaymentID:  payment.ID,
		IntentID:   payment.ProviderIntentID,
		FromStatus: payment.Status,
		ToStatus:   newStatus,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "Error publishing payment transition", "error", err)
	}

	switch newStatus {
	case StatusSucceeded:
		s.handleSucceeded(ctx, payment)
	case StatusFailed, StatusCanceled:
		s.handleFailed(ctx, payment, newStatus)
	}
}

func (s *Service) handleSucceeded(ctx context.Context, payment *db.PaymentEntity) {
	user, err := s.users.SelectByID(ctx, payment.UserID)
	if err != nil || user == nil {
		s.logger.ErrorContext(ctx, "User not found for payment, skipping notification", "error", err)
		return
	}

	links, err := s.issuer.Issue(ctx, payment, user.Email)
	if err != nil {
		// the success email still goes out, with a materials-pending note
		s.logger.ErrorContext(ctx, "Error issuing download links", "error", err)
		links = nil
	}

	tariffName := s.tariffName(ctx, payment.TariffID)
	err = s.mailer.SendPaymentSuccess(ctx, user.Email, user.Name, tariffName, payment.Amount, payment.Currency, links)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error sending success email", "error", err)
		return
	}

	s.logger.InfoContext(ctx, "Success email sent", "recipient", user.Email, "linkCount", len(links))
}

func (s *Service) handleFailed(ctx context.Context, payment *db.PaymentEntity, status string) {
	user, err := s.users.SelectByID(ctx, payment.UserID)
	if err != nil || user == nil {
		s.logger.ErrorContext(ctx, "User not found for payment, skipping notification", "error", err)
		return
	}

	tariffName := s.tariffName(ctx, payment.TariffID)
	err = s.mailer.SendPaymentFailure(ctx, user.Email, user.Name, tariffName, "payment "+status)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error sending failure email", "error", err)
		return
	}

	s.logger.InfoContext(ctx, "Failure email sent", "recipient", user.Email, "status", status)
}

func (s *Service) tariffName(ctx context.Context, tariffID *uuid.UUID) string {
	if tariffID == nil {
		return "Unknown Tariff"
	}
	tariff, err := s.tariffs.SelectByID(ctx, *tariffID)
	if err != nil || tariff == nil {
		return "Unknown Tariff"
	}
	return tariff.Name
}
