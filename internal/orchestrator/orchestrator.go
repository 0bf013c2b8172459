package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/intent-settlement/internal/scratch"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/tracker"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/rs/zerolog/log"
)

// ErrValidation is returned when admission is attempted without an order or
// signature. It is the only error that surfaces synchronously to the caller;
// everything downstream is absorbed into order status.
var ErrValidation = errors.New("order and signature are required")

// ExecutionResult is the outcome reported by an external executor.
type ExecutionResult struct {
	Success bool
	TxHash  string
}

// FillExecutor attempts the destination-chain fill. The orchestrator
// guarantees at most one call per order id.
type FillExecutor interface {
	ExecuteFill(ctx context.Context, orderID string, order *types.Order) (*ExecutionResult, error)
}

// FinalizeExecutor claims the origin-chain escrow after a proven fill. It
// retrieves the stored signature internally via the order store.
type FinalizeExecutor interface {
	FinalizeOrder(ctx context.Context, orderID string) (*ExecutionResult, error)
}

// OutcomeObserver receives admission and terminal-outcome notifications,
// typically backed by the prometheus registry.
type OutcomeObserver interface {
	IncAdmitted()
	IncPipelineOutcome(status string)
}

// Service drives each admitted order through the settlement lifecycle:
// pending → processing → {filled → finalized} | failed | expired. Admission
// returns immediately; the fill→finalize pipeline runs as a background task,
// exactly one per order id.
type Service struct {
	store    *store.Store
	fill     FillExecutor
	finalize FinalizeExecutor
	stats    *scratch.Cache[int]

	mu       sync.Mutex
	inflight map[string]struct{}
	stopped  bool
	observer OutcomeObserver
}

// SetOutcomeObserver attaches an observer for admissions and terminal
// outcomes. Must be called before the first admission.
func (s *Service) SetOutcomeObserver(o OutcomeObserver) {
	s.observer = o
}

func NewService(st *store.Store, fill FillExecutor, finalize FinalizeExecutor) *Service {
	return &Service{
		store:    st,
		fill:     fill,
		finalize: finalize,
		stats:    scratch.New[int](),
		inflight: make(map[string]struct{}),
	}
}

// Admit validates the pair, persists the record as pending and spawns the
// settlement pipeline. The generated order id is returned immediately; the
// caller polls order status to learn the eventual outcome.
func (s *Service) Admit(order *types.Order, signature []byte, metadata *types.OrderMetadata) (string, error) {
	return s.admit(order, signature, metadata, "")
}

// AdmitIdempotent behaves like Admit, but a repeated idempotency key within
// its TTL returns the originally admitted order id instead of starting a
// second pipeline.
func (s *Service) AdmitIdempotent(order *types.Order, signature []byte, metadata *types.OrderMetadata, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return s.admit(order, signature, metadata, "")
	}

	record, err := s.store.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return "", err
	}
	if record != nil && record.ExpiresAt.After(time.Now()) {
		log.Info().
			Str("service", "orchestrator").
			Str("order_id", record.ResourceID).
			Msg("duplicate admission resolved by idempotency key")
		return record.ResourceID, nil
	}

	return s.admit(order, signature, metadata, idempotencyKey)
}

func (s *Service) admit(order *types.Order, signature []byte, metadata *types.OrderMetadata, idempotencyKey string) (string, error) {
	if order == nil || len(signature) == 0 {
		return "", ErrValidation
	}

	orderID := "ORD_" + uuid.New().String()
	record := &types.StoredOrderRecord{
		OrderID:    orderID,
		Order:      *order,
		Signature:  signature,
		AdmittedAt: time.Now(),
		Status:     types.StatusPending,
	}
	if metadata != nil {
		record.Source = metadata.Source
		record.ClientID = metadata.ClientID
	}

	if idempotencyKey != "" {
		existing, err := s.store.StoreWithIdempotency(record, idempotencyKey)
		if err != nil {
			return "", fmt.Errorf("failed to persist order: %w", err)
		}
		if existing != "" {
			// A concurrent admission won the key between our lookup and the
			// write; its order id is the one the caller gets.
			log.Info().
				Str("service", "orchestrator").
				Str("order_id", existing).
				Msg("duplicate admission resolved by idempotency key")
			return existing, nil
		}
	} else {
		if err := s.store.Store(record); err != nil {
			return "", fmt.Errorf("failed to persist order: %w", err)
		}
	}

	log.Info().
		Str("service", "orchestrator").
		Str("order_id", orderID).
		Uint64("origin_chain", order.OriginChainID).
		Uint64("destination_chain", order.DestinationChainID).
		Msg("order admitted")

	s.stats.Update("orders_admitted", increment)
	if s.observer != nil {
		s.observer.IncAdmitted()
	}
	s.startPipeline(orderID)
	return orderID, nil
}

// startPipeline spawns the background settlement task unless one is already
// in flight for this order id.
func (s *Service) startPipeline(orderID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		log.Warn().
			Str("service", "orchestrator").
			Str("order_id", orderID).
			Msg("orchestrator stopped, not scheduling pipeline")
		return
	}
	if _, running := s.inflight[orderID]; running {
		s.mu.Unlock()
		log.Warn().
			Str("service", "orchestrator").
			Str("order_id", orderID).
			Msg("pipeline already in flight for order")
		return
	}
	s.inflight[orderID] = struct{}{}
	s.mu.Unlock()

	go s.runPipeline(orderID)
}

// Stop prevents new pipelines from being scheduled. In-flight external calls
// are not rolled back; they run to completion and record their outcome.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// GetOrder returns the stored record for the order id, or nil when unknown.
func (s *Service) GetOrder(orderID string) (*types.StoredOrderRecord, error) {
	return s.store.Get(orderID)
}

// Stats returns a snapshot of the orchestrator's operational counters.
func (s *Service) Stats() map[string]int {
	return s.stats.Snapshot()
}

// ObserveCompetition lets the orchestrator act as a competition observer,
// keeping reconciliation counters for adjudicated outcomes.
func (s *Service) ObserveCompetition(comp *tracker.Competition) error {
	if comp.Winner != "" {
		s.stats.Update("competitions_won", increment)
	} else {
		s.stats.Update("competitions_unfilled", increment)
	}
	return nil
}

// runPipeline is the fill→finalize background task for one order. Executor
// errors never propagate to the admission caller; they are absorbed into the
// failed status.
func (s *Service) runPipeline(orderID string) {
	logger := log.With().
		Str("service", "orchestrator").
		Str("order_id", orderID).
		Logger()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, orderID)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("pipeline panicked")
			s.markFailed(orderID)
		}
	}()

	ctx := context.Background()

	record, err := s.store.Get(orderID)
	if err != nil || record == nil {
		logger.Error().Err(err).Msg("failed to load order for pipeline")
		return
	}
	if record.Status.Terminal() {
		logger.Warn().Str("status", string(record.Status)).Msg("order already terminal, skipping pipeline")
		return
	}

	if !record.Order.FillDeadline.IsZero() && time.Now().After(record.Order.FillDeadline) {
		logger.Warn().Time("fill_deadline", record.Order.FillDeadline).Msg("fill deadline passed before processing")
		if s.setStatus(orderID, types.StatusExpired) {
			s.stats.Update("orders_expired", increment)
		}
		return
	}

	if !s.setStatus(orderID, types.StatusProcessing) {
		logger.Warn().Msg("order reached a terminal status before processing")
		return
	}

	fillResult, err := s.fill.ExecuteFill(ctx, orderID, &record.Order)
	if err != nil || !fillResult.Success {
		logger.Warn().Err(err).Msg("destination fill failed")
		s.markFailed(orderID)
		return
	}
	if !s.setStatus(orderID, types.StatusFilled) {
		// The order expired while the fill was in flight. The escrow claim
		// is left to reconciliation rather than finalizing an order that
		// will forever read expired.
		logger.Warn().Str("tx_hash", fillResult.TxHash).Msg("order expired during fill, skipping finalize")
		return
	}
	logger.Info().Str("tx_hash", fillResult.TxHash).Msg("destination fill succeeded")

	finalizeResult, err := s.finalize.FinalizeOrder(ctx, orderID)
	if err != nil || !finalizeResult.Success {
		// The destination leg already succeeded: this is a reconciliation
		// gap, not a rollback.
		logger.Error().Err(err).Msg("finalize failed after successful fill")
		s.markFailed(orderID)
		return
	}

	if s.setStatus(orderID, types.StatusFinalized) {
		s.stats.Update("orders_finalized", increment)
		logger.Info().Str("tx_hash", finalizeResult.TxHash).Msg("order finalized")
	}
}

func (s *Service) markFailed(orderID string) {
	if s.setStatus(orderID, types.StatusFailed) {
		s.stats.Update("orders_failed", increment)
	}
}

// setStatus applies a transition and reports whether the write landed. The
// terminal-immutability guard runs inside the store's UPDATE, so a status
// that went terminal concurrently is never overwritten. The plain
// UpdateStatus stays unvalidated; legality is this method's concern.
func (s *Service) setStatus(orderID string, status types.OrderStatus) bool {
	applied, err := s.store.UpdateStatusIfNotTerminal(orderID, status)
	if err != nil {
		log.Error().Err(err).
			Str("service", "orchestrator").
			Str("order_id", orderID).
			Str("status", string(status)).
			Msg("failed to update order status")
		return false
	}
	if applied && status.Terminal() && s.observer != nil {
		s.observer.IncPipelineOutcome(string(status))
	}
	return applied
}

func increment(v int) int { return v + 1 }
