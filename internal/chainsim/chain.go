// Package chainsim provides simulated chain collaborators: a fill executor,
// a finalize executor, a fill event source and a chain query with
// configurable latency and success rates. They stand in for real chain
// clients in the simulation binary and in tests; production deployments swap
// in implementations backed by actual RPC connections.
package chainsim

import (
	"context"
	"sync"
	"time"

	"github.com/ksred/intent-settlement/internal/types"
	"github.com/rs/zerolog/log"
)

// SimulatedChain models the destination chain's observable state: which
// orders are filled, by whom, and the event stream a tracker subscribes to.
type SimulatedChain struct {
	mu          sync.Mutex
	filled      map[string]types.FillEventData
	history     []types.FillEventData
	blockNumber uint64

	fills    chan types.FillEventData
	failures chan types.FillFailureData
}

func NewSimulatedChain() *SimulatedChain {
	return &SimulatedChain{
		filled:   make(map[string]types.FillEventData),
		fills:    make(chan types.FillEventData, 256),
		failures: make(chan types.FillFailureData, 256),
	}
}

// FillEvents returns the successful-fill subscription channel.
func (c *SimulatedChain) FillEvents() <-chan types.FillEventData {
	return c.fills
}

// FailureEvents returns the failed-fill subscription channel.
func (c *SimulatedChain) FailureEvents() <-chan types.FillFailureData {
	return c.failures
}

// PastFillEvents reconstructs historical fill events between the given blocks
// (zero means unbounded) without mutating any state.
func (c *SimulatedChain) PastFillEvents(fromBlock, toBlock uint64) ([]types.FillEventData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.FillEventData
	for _, ev := range c.history {
		if fromBlock > 0 && ev.BlockNumber < fromBlock {
			continue
		}
		if toBlock > 0 && ev.BlockNumber > toBlock {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// OrderFillStatus answers whether the chain has recorded a fill for the
// order, independent of any tracker bookkeeping.
func (c *SimulatedChain) OrderFillStatus(_ context.Context, orderID string) (*types.FillStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev, ok := c.filled[orderID]
	if !ok {
		return &types.FillStatus{Filled: false}, nil
	}
	return &types.FillStatus{
		Filled: true,
		Solver: ev.Solver,
		Amount: ev.Amount,
	}, nil
}

// RecordFill marks the order filled on chain and publishes the event. The
// first fill recorded for an order id is the one the chain query reports.
func (c *SimulatedChain) RecordFill(orderID, solver string, amount *types.U256) types.FillEventData {
	c.mu.Lock()
	c.blockNumber++
	ev := types.FillEventData{
		OrderID:     orderID,
		Solver:      solver,
		Amount:      amount,
		BlockNumber: c.blockNumber,
		Timestamp:   time.Now(),
	}
	if _, exists := c.filled[orderID]; !exists {
		c.filled[orderID] = ev
	}
	c.history = append(c.history, ev)
	c.mu.Unlock()

	c.publishFill(ev)
	return ev
}

// RecordFailure publishes a failed fill attempt.
func (c *SimulatedChain) RecordFailure(orderID, solver, reason string) types.FillFailureData {
	ev := types.FillFailureData{
		OrderID:   orderID,
		Solver:    solver,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	c.publishFailure(ev)
	return ev
}

func (c *SimulatedChain) publishFill(ev types.FillEventData) {
	select {
	case c.fills <- ev:
	default:
		log.Warn().
			Str("component", "chainsim").
			Str("order_id", ev.OrderID).
			Msg("fill event channel full, dropping event")
	}
}

func (c *SimulatedChain) publishFailure(ev types.FillFailureData) {
	select {
	case c.failures <- ev:
	default:
		log.Warn().
			Str("component", "chainsim").
			Str("order_id", ev.OrderID).
			Msg("failure event channel full, dropping event")
	}
}
