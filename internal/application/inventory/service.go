package inventory

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/shopstream/commerce-core/internal/contracts/event"
	"github.com/shopstream/commerce-core/internal/domain"
	"github.com/shopstream/commerce-core/internal/monitoring"
	"github.com/shopstream/commerce-core/internal/outbox"
)

const sweepBatchSize = 100

type Config struct {
	ReservationTTL    time.Duration
	OptimisticRetries int
	CASBackoffBase    time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 15 * time.Minute
	}
	if c.OptimisticRetries <= 0 {
		c.OptimisticRetries = 3
	}
	if c.CASBackoffBase <= 0 {
		c.CASBackoffBase = 5 * time.Millisecond
	}
}

type ReserveResult struct {
	ReservationID  uuid.UUID
	AvailableAfter int32
	ExpiresAt      time.Time
}

// Service is the reservation engine. Both strategies keep the same
// contract: stock is debited when the reservation is taken, commit and
// release only move the reservation row (release also restores stock).
type Service struct {
	tx           TxRunner
	variants     VariantRepository
	reservations ReservationRepository
	experiments  Experiments
	events       outbox.Appender
	cfg          Config
	source       string
	lg           zerolog.Logger
}

func NewService(tx TxRunner, variants VariantRepository, reservations ReservationRepository,
	experiments Experiments, events outbox.Appender, cfg Config, source string, lg zerolog.Logger) *Service {
	cfg.applyDefaults()
	if experiments == nil {
		experiments = FixedExperiments{Default: StrategyOptimistic}
	}
	return &Service{
		tx:           tx,
		variants:     variants,
		reservations: reservations,
		experiments:  experiments,
		events:       events,
		cfg:          cfg,
		source:       source,
		lg:           lg.With().Str("component", "inventory_service").Logger(),
	}
}

// Reserve holds quantity units of a variant for reservedBy. Returns
// InsufficientStock when the stock cannot cover the request, including when
// optimistic CAS retries are exhausted under contention.
func (s *Service) Reserve(ctx context.Context, variantID uuid.UUID, quantity int32, reservedBy string, ttl time.Duration) (ReserveResult, error) {
	if quantity < 1 {
		return ReserveResult{}, domain.E(domain.KindInvalidInput, "quantity must be >= 1")
	}
	if ttl <= 0 {
		ttl = s.cfg.ReservationTTL
	}
	strategy := s.experiments.StrategyFor(reservedBy)

	res := &domain.InventoryReservation{
		ID:         uuid.New(),
		VariantID:  variantID,
		Quantity:   quantity,
		ReservedBy: reservedBy,
		State:      domain.ReservationHeld,
		ExpiresAt:  time.Now().UTC().Add(ttl),
		CreatedAt:  time.Now().UTC(),
	}

	var available int32
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		switch strategy {
		case StrategyPessimistic:
			available, err = s.debitPessimistic(ctx, tx, variantID, quantity)
		default:
			available, err = s.debitOptimistic(ctx, tx, variantID, quantity)
		}
		if err != nil {
			return err
		}

		if err := s.reservations.InsertTx(ctx, tx, res); err != nil {
			return err
		}
		env, err := event.NewEnvelope(event.TypeInventoryReserved, s.source, event.InventoryPayload{
			ReservationID: res.ID.String(),
			VariantID:     variantID.String(),
			Quantity:      quantity,
			ReservedBy:    reservedBy,
		}, nil)
		if err != nil {
			return err
		}
		return outbox.WriteEvent(ctx, s.events, tx, env)
	})
	if err != nil {
		monitoring.RecordReservation(string(strategy), "rejected")
		return ReserveResult{}, err
	}

	monitoring.RecordReservation(string(strategy), "held")
	s.lg.Debug().
		Str("reservation_id", res.ID.String()).
		Str("variant_id", variantID.String()).
		Int32("quantity", quantity).
		Str("strategy", string(strategy)).
		Msg("reservation held")
	return ReserveResult{ReservationID: res.ID, AvailableAfter: available, ExpiresAt: res.ExpiresAt}, nil
}

// debitOptimistic reads without locking and swaps stock against the
// observed version, retrying a bounded number of times under contention.
func (s *Service) debitOptimistic(ctx context.Context, tx pgx.Tx, variantID uuid.UUID, quantity int32) (int32, error) {
	for attempt := 0; attempt <= s.cfg.OptimisticRetries; attempt++ {
		if attempt > 0 {
			monitoring.RecordCASRetry()
			// Small randomized backoff; contention windows here are short.
			jitter := time.Duration(rand.Int63n(int64(s.cfg.CASBackoffBase))) + s.cfg.CASBackoffBase
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(jitter):
			}
		}

		v, err := s.variants.GetTx(ctx, tx, variantID)
		if err != nil {
			return 0, err
		}
		newStock := v.Stock - quantity
		if newStock < 0 {
			return 0, domain.ErrInsufficientStock
		}
		ok, err := s.variants.CASStockTx(ctx, tx, variantID, newStock, v.Version)
		if err != nil {
			return 0, err
		}
		if ok {
			return newStock, nil
		}
	}
	// Retries exhausted; caller sees the same result as an empty shelf.
	return 0, domain.ErrInsufficientStock
}

func (s *Service) debitPessimistic(ctx context.Context, tx pgx.Tx, variantID uuid.UUID, quantity int32) (int32, error) {
	v, err := s.variants.GetForUpdateTx(ctx, tx, variantID)
	if err != nil {
		return 0, err
	}
	newStock := v.Stock - quantity
	if newStock < 0 {
		return 0, domain.ErrInsufficientStock
	}
	if err := s.variants.SetStockTx(ctx, tx, variantID, newStock); err != nil {
		return 0, err
	}
	return newStock, nil
}

// Commit finalizes a held reservation against an order. Stock was already
// debited at reserve time, so only the reservation row changes.
func (s *Service) Commit(ctx context.Context, reservationID, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := s.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res.State != domain.ReservationHeld {
			return domain.ErrReservationNotHeld
		}
		now := time.Now().UTC()
		if err := s.reservations.SetStateTx(ctx, tx, reservationID, domain.ReservationCommitted, now); err != nil {
			return err
		}
		env, err := event.NewEnvelope(event.TypeInventoryCommitted, s.source, event.InventoryPayload{
			ReservationID: reservationID.String(),
			VariantID:     res.VariantID.String(),
			Quantity:      res.Quantity,
			OrderID:       orderID.String(),
		}, nil)
		if err != nil {
			return err
		}
		return outbox.WriteEvent(ctx, s.events, tx, env)
	})
}

// Release voids a held reservation and restores its stock.
func (s *Service) Release(ctx context.Context, reservationID uuid.UUID, reason string) error {
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := s.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res.State != domain.ReservationHeld {
			return domain.ErrReservationNotHeld
		}
		now := time.Now().UTC()
		if err := s.reservations.SetStateTx(ctx, tx, reservationID, domain.ReservationReleased, now); err != nil {
			return err
		}
		if err := s.restoreStock(ctx, tx, res.VariantID, res.Quantity); err != nil {
			return err
		}
		env, err := event.NewEnvelope(event.TypeInventoryReleased, s.source, event.InventoryPayload{
			ReservationID: reservationID.String(),
			VariantID:     res.VariantID.String(),
			Quantity:      res.Quantity,
			Reason:        reason,
		}, nil)
		if err != nil {
			return err
		}
		return outbox.WriteEvent(ctx, s.events, tx, env)
	})
}

// restoreStock returns quantity to the shelf with the CAS pattern, falling
// back to a relative increment when retries are exhausted (the increment
// cannot violate non-negativity).
func (s *Service) restoreStock(ctx context.Context, tx pgx.Tx, variantID uuid.UUID, quantity int32) error {
	for attempt := 0; attempt <= s.cfg.OptimisticRetries; attempt++ {
		v, err := s.variants.GetTx(ctx, tx, variantID)
		if err != nil {
			return err
		}
		ok, err := s.variants.CASStockTx(ctx, tx, variantID, v.Stock+quantity, v.Version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		monitoring.RecordCASRetry()
	}
	return s.variants.IncrementStockTx(ctx, tx, variantID, quantity)
}

// SweepExpired expires held reservations past their TTL and restores their
// stock. Each batch is one transaction: reservation flip, stock restore and
// inventory.expired event commit together.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	swept := 0
	for {
		n := 0
		err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
			expired, err := s.reservations.ClaimExpiredTx(ctx, tx, time.Now().UTC(), sweepBatchSize)
			if err != nil {
				return err
			}
			n = len(expired)
			now := time.Now().UTC()
			for _, res := range expired {
				if err := s.reservations.SetStateTx(ctx, tx, res.ID, domain.ReservationExpired, now); err != nil {
					return err
				}
				if err := s.variants.IncrementStockTx(ctx, tx, res.VariantID, res.Quantity); err != nil {
					return err
				}
				env, err := event.NewEnvelope(event.TypeInventoryExpired, s.source, event.InventoryPayload{
					ReservationID: res.ID.String(),
					VariantID:     res.VariantID.String(),
					Quantity:      res.Quantity,
					ReservedBy:    res.ReservedBy,
					Reason:        "ttl_expired",
				}, nil)
				if err != nil {
					return err
				}
				if err := outbox.WriteEvent(ctx, s.events, tx, env); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return swept, err
		}
		swept += n
		if n < sweepBatchSize {
			return swept, nil
		}
	}
}

// RunSweeper drives SweepExpired on an interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg := s.lg.With().Str("component", "reservation_sweeper").Logger()
	lg.Info().Dur("interval", interval).Msg("started")

	for {
		select {
		case <-ctx.Done():
			lg.Info().Msg("stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				lg.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				lg.Info().Int("expired", n).Msg("reservations expired")
			}
		}
	}
}
