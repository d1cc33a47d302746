package payment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/monitoring"
	"github.com/shopstream/commerce-core/internal/outbox"
)

// Reconciler closes the gap left by lost webhooks: it asks the provider for
// the authoritative status of every non-terminal payment and applies any
// drift it finds.
type Reconciler struct {
	tx        TxRunner
	payments  Repository
	marker    OrderMarker
	providers ProviderRegistry
	events    outbox.Appender
	source    string
	lg        zerolog.Logger
}

func NewReconciler(tx TxRunner, payments Repository, marker OrderMarker,
	providers ProviderRegistry, events outbox.Appender, source string, lg zerolog.Logger) *Reconciler {
	return &Reconciler{
		tx:        tx,
		payments:  payments,
		marker:    marker,
		providers: providers,
		events:    events,
		source:    source,
		lg:        lg.With().Str("component", "payment_reconciler").Logger(),
	}
}

// ReconcileBatch checks up to limit non-terminal payments. Provider failures
// on one payment never abort the batch; the payment simply stays for the
// next run. Returns how many payments changed status.
func (r *Reconciler) ReconcileBatch(ctx context.Context, limit int) (int, error) {
	payments, err := r.payments.ListNonTerminal(ctx, limit)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range payments {
		p := &payments[i]
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		moved, err := r.reconcileOne(ctx, p)
		if err != nil {
			r.lg.Warn().Err(err).
				Str("payment_id", p.ID.String()).
				Str("intent_id", p.PaymentIntentID).
				Msg("reconcile skipped")
			continue
		}
		if moved {
			changed++
		}
	}
	return changed, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *domain.Payment) (bool, error) {
	provider, err := r.providers.Get(p.Provider)
	if err != nil {
		return false, err
	}

	start := time.Now()
	remote, err := provider.GetStatus(ctx, p.PaymentIntentID)
	monitoring.ObserveProviderCall("get_status", time.Since(start))
	if err != nil {
		return false, domain.Wrap(domain.KindTransientUpstream, "provider get status", err)
	}
	if remote == p.Status {
		return false, nil
	}

	err = r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := r.payments.GetByIntentIDForUpdateTx(ctx, tx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		// A webhook may have landed between the list and the lock.
		if locked.Status == remote || !locked.Status.CanTransition(remote) {
			return nil
		}
		if err := r.payments.UpdateStatusTx(ctx, tx, locked.ID, remote); err != nil {
			return err
		}
		locked.Status = remote

		env, err := event.NewEnvelope(event.TypePaymentReconciled, r.source, paymentPayload(locked), nil)
		if err != nil {
			return err
		}
		if err := outbox.WriteEvent(ctx, r.events, tx, env); err != nil {
			return err
		}

		if remote == domain.PaymentSucceeded {
			return r.marker.MarkPaidTx(ctx, tx, locked.OrderID, locked.ID, true)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	r.lg.Info().
		Str("payment_id", p.ID.String()).
		Str("from", string(p.Status)).
		Str("to", string(remote)).
		Msg("payment reconciled")
	return true, nil
}
