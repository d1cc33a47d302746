package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/monitoring"
	"github.com/shopstream/commerce-core/internal/outbox"
)

// Webhook event types as the provider sends them.
const (
	WebhookIntentSucceeded = "payment_intent.succeeded"
	WebhookIntentFailed    = "payment_intent.payment_failed"
	WebhookChargeRefunded  = "charge.refunded"
)

type CreateInput struct {
	OrderID        uuid.UUID
	Provider       string
	Method         string
	IdempotencyKey string
}

type WebhookInput struct {
	Provider  string
	EventID   string
	EventType string
	IntentID  string
	Payload   []byte
	Signature string
}

type WebhookResult struct {
	PaymentID uuid.UUID
	Status    domain.PaymentStatus
	Replay    bool
}

// Service coordinates payments against external providers: intent creation,
// webhook-driven status transitions, and order settlement.
type Service struct {
	tx        TxRunner
	payments  Repository
	orders    OrderReader
	marker    OrderMarker
	providers ProviderRegistry
	events    outbox.Appender
	source    string
	lg        zerolog.Logger
}

func NewService(tx TxRunner, payments Repository, orders OrderReader, marker OrderMarker,
	providers ProviderRegistry, events outbox.Appender, source string, lg zerolog.Logger) *Service {
	return &Service{
		tx:        tx,
		payments:  payments,
		orders:    orders,
		marker:    marker,
		providers: providers,
		events:    events,
		source:    source,
		lg:        lg.With().Str("component", "payment_service").Logger(),
	}
}

// Create opens a payment for an order: a provider intent plus a row carrying
// the intent's status, with payment.created co-committed. The idempotency
// key dedupes retried checkout submissions.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Payment, error) {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = fmt.Sprintf("pay-%s", uuid.NewString())
	} else {
		existing, err := s.payments.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			if existing.OrderID != in.OrderID {
				return nil, domain.ErrIdempotencyConflict
			}
			return existing, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}
	}

	provider, err := s.providers.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderCreated {
		return nil, domain.Ef(domain.KindInvalidTransition, "order %s is %s, cannot open payment", o.ID, o.Status)
	}

	start := time.Now()
	intent, err := provider.CreateIntent(ctx, o.Total, o.Currency, o.ID)
	monitoring.ObserveProviderCall("create_intent", time.Since(start))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientUpstream, "provider create intent", err)
	}

	// Providers that authorize synchronously can hand back an intent
	// already past PENDING; the row starts at the intent's status.
	status := intent.Status
	if status == "" {
		status = domain.PaymentPending
	}

	p := &domain.Payment{
		ID:              uuid.New(),
		OrderID:         o.ID,
		PaymentIntentID: intent.ID,
		Provider:        provider.Name(),
		Amount:          o.Total,
		Currency:        o.Currency,
		Status:          status,
		Method:          in.Method,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       time.Now().UTC(),
	}
	p.UpdatedAt = p.CreatedAt

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.payments.InsertTx(ctx, tx, p); err != nil {
			return err
		}
		env, err := event.NewEnvelope(event.TypePaymentCreated, s.source, paymentPayload(p), nil)
		if err != nil {
			return err
		}
		return outbox.WriteEvent(ctx, s.events, tx, env)
	})
	if err != nil {
		return nil, err
	}

	s.lg.Info().
		Str("payment_id", p.ID.String()).
		Str("order_id", o.ID.String()).
		Str("intent_id", intent.ID).
		Str("amount", p.Amount.String()).
		Msg("payment created")
	return p, nil
}

// Confirm asks the provider for the intent's current status and applies it:
// a still-open intent moves the payment to PROCESSING, a settled one is
// applied like a webhook would apply it, with the payment event and order
// settlement co-committed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	remote, err := provider.GetStatus(ctx, p.PaymentIntentID)
	monitoring.ObserveProviderCall("get_status", time.Since(start))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientUpstream, "provider get status", err)
	}

	target := remote
	if remote == domain.PaymentPending {
		// Details submitted, capture not settled yet.
		target = domain.PaymentProcessing
	}

	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.payments.GetByIntentIDForUpdateTx(ctx, tx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if locked.Status == target {
			p = locked
			return nil
		}
		if !locked.Status.CanTransition(target) {
			return domain.Ef(domain.KindInvalidTransition, "payment %s: %s -> %s", id, locked.Status, target)
		}
		if err := s.payments.UpdateStatusTx(ctx, tx, locked.ID, target); err != nil {
			return err
		}
		locked.Status = target

		if eventType := settlementEvent(target); eventType != "" {
			env, err := event.NewEnvelope(eventType, s.source, paymentPayload(locked), nil)
			if err != nil {
				return err
			}
			if err := outbox.WriteEvent(ctx, s.events, tx, env); err != nil {
				return err
			}
		}
		if target == domain.PaymentSucceeded {
			if err := s.marker.MarkPaidTx(ctx, tx, locked.OrderID, locked.ID, false); err != nil {
				return err
			}
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessWebhook applies one provider delivery. Signature failures reject
// before any state is read; a replayed event id returns the first delivery's
// result without mutating anything.
func (s *Service) ProcessWebhook(ctx context.Context, in WebhookInput) (WebhookResult, error) {
	provider, err := s.providers.Get(in.Provider)
	if err != nil {
		return WebhookResult{}, err
	}
	if !provider.VerifySignature(in.Payload, in.Signature) {
		monitoring.RecordWebhookProcessed(in.EventType, "invalid_signature")
		return WebhookResult{}, domain.ErrInvalidSignature
	}

	if prior, err := s.payments.GetByWebhookEventID(ctx, in.EventID); err == nil {
		monitoring.RecordWebhookProcessed(in.EventType, "replay")
		return WebhookResult{PaymentID: prior.ID, Status: prior.Status, Replay: true}, nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return WebhookResult{}, err
	}

	target, eventType, err := webhookTarget(in.EventType)
	if err != nil {
		monitoring.RecordWebhookProcessed(in.EventType, "unhandled")
		return WebhookResult{}, err
	}

	var result WebhookResult
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.payments.GetByIntentIDForUpdateTx(ctx, tx, in.IntentID)
		if err != nil {
			return err
		}
		if p.Status == target {
			// Same outcome delivered twice under different event ids.
			result = WebhookResult{PaymentID: p.ID, Status: p.Status, Replay: true}
			return nil
		}
		if !p.Status.CanTransition(target) {
			return domain.Ef(domain.KindInvalidTransition, "payment %s: %s -> %s", p.ID, p.Status, target)
		}
		if err := s.payments.SetWebhookEventTx(ctx, tx, p.ID, in.EventID, target); err != nil {
			return err
		}
		p.Status = target

		env, err := event.NewEnvelope(eventType, s.source, paymentPayload(p), nil)
		if err != nil {
			return err
		}
		if err := outbox.WriteEvent(ctx, s.events, tx, env); err != nil {
			return err
		}

		if target == domain.PaymentSucceeded {
			if err := s.marker.MarkPaidTx(ctx, tx, p.OrderID, p.ID, false); err != nil {
				return err
			}
		}
		result = WebhookResult{PaymentID: p.ID, Status: target}
		return nil
	})
	if err != nil {
		monitoring.RecordWebhookProcessed(in.EventType, "failed")
		return WebhookResult{}, err
	}

	outcome := "processed"
	if result.Replay {
		outcome = "replay"
	}
	monitoring.RecordWebhookProcessed(in.EventType, outcome)
	s.lg.Info().
		Str("payment_id", result.PaymentID.String()).
		Str("webhook_event_id", in.EventID).
		Str("event_type", in.EventType).
		Str("status", string(result.Status)).
		Bool("replay", result.Replay).
		Msg("webhook processed")
	return result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func webhookTarget(webhookType string) (domain.PaymentStatus, string, error) {
	switch webhookType {
	case WebhookIntentSucceeded:
		return domain.PaymentSucceeded, event.TypePaymentSucceeded, nil
	case WebhookIntentFailed:
		return domain.PaymentFailed, event.TypePaymentFailed, nil
	case WebhookChargeRefunded:
		return domain.PaymentRefunded, event.TypePaymentRefunded, nil
	default:
		return "", "", domain.Ef(domain.KindInvalidInput, "unhandled webhook event type %q", webhookType)
	}
}

// settlementEvent names the event a settled status publishes; open
// statuses publish nothing.
func settlementEvent(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentSucceeded:
		return event.TypePaymentSucceeded
	case domain.PaymentFailed:
		return event.TypePaymentFailed
	case domain.PaymentRefunded:
		return event.TypePaymentRefunded
	default:
		return ""
	}
}

func paymentPayload(p *domain.Payment) event.PaymentPayload {
	return event.PaymentPayload{
		PaymentID:       p.ID.String(),
		OrderID:         p.OrderID.String(),
		PaymentIntentID: p.PaymentIntentID,
		Provider:        p.Provider,
		Amount:          p.Amount.String(),
		Currency:        p.Currency,
		Status:          string(p.Status),
	}
}
