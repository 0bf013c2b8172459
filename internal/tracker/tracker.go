package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ksred/intent-settlement/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyListening = errors.New("tracker is already listening")

// FillHandler observes successful fill events.
type FillHandler func(types.FillEventData) error

// FailureHandler observes failed fill attempts.
type FailureHandler func(types.FillFailureData) error

// CompetitionHandler observes finalized competitions. The snapshot it
// receives is a private copy.
type CompetitionHandler func(*Competition) error

// EventSource delivers destination-chain fill notifications. Delivery is
// at-least-once: duplicates are possible and are not de-duplicated here.
type EventSource interface {
	FillEvents() <-chan types.FillEventData
	FailureEvents() <-chan types.FillFailureData
	// PastFillEvents reconstructs historical fill events between the given
	// blocks (zero means unbounded) without touching live state.
	PastFillEvents(fromBlock, toBlock uint64) ([]types.FillEventData, error)
}

// ChainQuery answers point-in-time fill questions directly from the chain,
// independent of in-memory competition state.
type ChainQuery interface {
	OrderFillStatus(ctx context.Context, orderID string) (*types.FillStatus, error)
}

// Tracker turns the raw on-chain event stream into an adjudicated competition
// outcome per order: the first successful fill observed wins; if only
// failures arrive, a window timer finalizes the competition with no winner.
type Tracker struct {
	mu           sync.Mutex
	competitions map[string]*Competition
	windows      map[string]*time.Timer

	handlerMu           sync.RWMutex
	fillHandlers        map[string]FillHandler
	failureHandlers     map[string]FailureHandler
	competitionHandlers map[string]CompetitionHandler

	source          EventSource
	query           ChainQuery
	window          time.Duration
	monitorFailures bool

	cancel    context.CancelFunc
	done      chan struct{}
	listening bool
}

// New creates a tracker. The window bounds how long a competition stays open
// after a failed attempt before it is finalized with no winner.
func New(source EventSource, query ChainQuery, window time.Duration, monitorFailures bool) *Tracker {
	return &Tracker{
		competitions:        make(map[string]*Competition),
		windows:             make(map[string]*time.Timer),
		fillHandlers:        make(map[string]FillHandler),
		failureHandlers:     make(map[string]FailureHandler),
		competitionHandlers: make(map[string]CompetitionHandler),
		source:              source,
		query:               query,
		window:              window,
		monitorFailures:     monitorFailures,
	}
}

// StartListening begins consuming the event subscription in the background.
func (t *Tracker) StartListening() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listening {
		return ErrAlreadyListening
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.listening = true

	go t.run(ctx)

	log.Info().
		Str("component", "fill_tracker").
		Dur("competition_window", t.window).
		Bool("monitor_failures", t.monitorFailures).
		Msg("tracker started listening")
	return nil
}

// StopListening ends the event subscription and cancels all outstanding
// window timers. Competitions already finalized are unaffected.
func (t *Tracker) StopListening() {
	t.mu.Lock()
	if !t.listening {
		t.mu.Unlock()
		return
	}
	t.listening = false
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	cancel()
	<-done

	t.mu.Lock()
	for orderID, timer := range t.windows {
		timer.Stop()
		delete(t.windows, orderID)
	}
	t.mu.Unlock()

	log.Info().Str("component", "fill_tracker").Msg("tracker stopped listening")
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	fills := t.source.FillEvents()
	var failures <-chan types.FillFailureData
	if t.monitorFailures {
		failures = t.source.FailureEvents()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			t.ProcessFill(ev)
		case ev, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			t.ProcessFailure(ev)
		}
	}
}

// ProcessFill records a successful fill attempt. The first success observed
// for an order wins its competition and finalizes it immediately; later
// successes are recorded in FillTimes but never displace the winner.
func (t *Tracker) ProcessFill(ev types.FillEventData) {
	logger := log.With().
		Str("component", "fill_tracker").
		Str("order_id", ev.OrderID).
		Str("solver", ev.Solver).
		Logger()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	comp, exists := t.competitions[ev.OrderID]
	if !exists {
		comp = newCompetition(ev.OrderID, ts)
		t.competitions[ev.OrderID] = comp
	}
	if !comp.hasSolver(ev.Solver) {
		comp.Solvers = append(comp.Solvers, ev.Solver)
	}
	comp.TotalAttempts++
	comp.FillTimes[ev.Solver] = ts

	var finalized *Competition
	if comp.Active && comp.Winner == "" {
		comp.Winner = ev.Solver
		finalized = t.finalizeLocked(comp)
	}
	t.mu.Unlock()

	if finalized != nil {
		logger.Info().
			Int("total_attempts", finalized.TotalAttempts).
			Msg("fill won competition")
	} else {
		logger.Info().Msg("fill recorded for already-decided competition")
	}

	t.notifyFillHandlers(ev)
	if finalized != nil {
		t.notifyCompetitionHandlers(finalized)
	}
}

// ProcessFailure records a failed fill attempt and arms the competition
// window if it is not already running.
func (t *Tracker) ProcessFailure(ev types.FillFailureData) {
	logger := log.With().
		Str("component", "fill_tracker").
		Str("order_id", ev.OrderID).
		Logger()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	comp, exists := t.competitions[ev.OrderID]
	if !exists {
		comp = newCompetition(ev.OrderID, ts)
		t.competitions[ev.OrderID] = comp
	}
	if ev.Solver != "" && !comp.hasSolver(ev.Solver) {
		comp.Solvers = append(comp.Solvers, ev.Solver)
	}
	comp.TotalAttempts++
	comp.FailedAttempts++

	if comp.Active {
		if _, armed := t.windows[ev.OrderID]; !armed {
			orderID := ev.OrderID
			t.windows[orderID] = time.AfterFunc(t.window, func() {
				t.expireWindow(orderID)
			})
		}
	}
	t.mu.Unlock()

	logger.Info().
		Str("reason", ev.Reason).
		Msg("fill failure recorded")

	t.notifyFailureHandlers(ev)
}

// expireWindow fires at most once per competition: if the competition is
// still open when the window elapses, it is finalized with no winner.
func (t *Tracker) expireWindow(orderID string) {
	t.mu.Lock()
	comp, exists := t.competitions[orderID]
	if !exists || !comp.Active {
		t.mu.Unlock()
		return
	}
	finalized := t.finalizeLocked(comp)
	t.mu.Unlock()

	log.Info().
		Str("component", "fill_tracker").
		Str("order_id", orderID).
		Int("failed_attempts", finalized.FailedAttempts).
		Msg("competition window elapsed with no winner")

	t.notifyCompetitionHandlers(finalized)
}

// finalizeLocked closes the competition and cancels its window timer. It is
// idempotent: a second call returns nil and changes nothing. Callers must
// hold t.mu.
func (t *Tracker) finalizeLocked(comp *Competition) *Competition {
	if !comp.Active {
		return nil
	}
	comp.Active = false
	now := time.Now()
	comp.FinalizedAt = &now

	if timer, ok := t.windows[comp.OrderID]; ok {
		timer.Stop()
		delete(t.windows, comp.OrderID)
	}
	return comp.snapshot()
}

// GetCompetition returns a snapshot of the competition for the order id, or
// nil when no attempt has been observed.
func (t *Tracker) GetCompetition(orderID string) *Competition {
	t.mu.Lock()
	defer t.mu.Unlock()
	comp, exists := t.competitions[orderID]
	if !exists {
		return nil
	}
	return comp.snapshot()
}

// GetAllCompetitions returns a snapshot of every tracked competition.
func (t *Tracker) GetAllCompetitions() map[string]*Competition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Competition, len(t.competitions))
	for id, comp := range t.competitions {
		out[id] = comp.snapshot()
	}
	return out
}

// IsOrderFilled answers from the chain, not from in-memory competition state.
func (t *Tracker) IsOrderFilled(ctx context.Context, orderID string) (*types.FillStatus, error) {
	return t.query.OrderFillStatus(ctx, orderID)
}

// GetPastFillEvents replays historical fill events without mutating
// competition state.
func (t *Tracker) GetPastFillEvents(fromBlock, toBlock uint64) ([]types.FillEventData, error) {
	return t.source.PastFillEvents(fromBlock, toBlock)
}
