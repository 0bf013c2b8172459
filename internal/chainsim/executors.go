package chainsim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ksred/intent-settlement/internal/orchestrator"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/rs/zerolog/log"
)

// Solver addresses competing for fills in the simulation.
var simulatedSolvers = []string{
	"0xso1ver000000000000000000000000000000000a",
	"0xso1ver000000000000000000000000000000000b",
	"0xso1ver000000000000000000000000000000000c",
}

// FillExecutor simulates the destination-chain fill: random latency, a
// configurable success rate, and fill/failure events published to the chain's
// event stream as a side effect.
type FillExecutor struct {
	chain       *SimulatedChain
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of successful execution
}

func NewFillExecutor(chain *SimulatedChain) *FillExecutor {
	return &FillExecutor{
		chain:       chain,
		MinLatency:  5,
		MaxLatency:  50,
		SuccessRate: 0.9,
	}
}

func (e *FillExecutor) ExecuteFill(_ context.Context, orderID string, order *types.Order) (*orchestrator.ExecutionResult, error) {
	solver := simulatedSolvers[rand.Intn(len(simulatedSolvers))]
	logger := log.With().
		Str("component", "chainsim").
		Str("order_id", orderID).
		Str("solver", solver).
		Uint64("destination_chain", order.DestinationChainID).
		Logger()

	logger.Info().Msg("attempting destination fill")

	latency := rand.Intn(e.MaxLatency-e.MinLatency+1) + e.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	if rand.Float64() > e.SuccessRate {
		logger.Warn().
			Float64("success_rate", e.SuccessRate).
			Msg("destination fill failed")
		e.chain.RecordFailure(orderID, solver, "execution reverted")
		return nil, fmt.Errorf("fill reverted on chain %d", order.DestinationChainID)
	}

	amount := types.NewU256(0)
	if len(order.Outputs) > 0 && order.Outputs[0].Amount != nil {
		amount = order.Outputs[0].Amount
	}

	ev := e.chain.RecordFill(orderID, solver, amount)
	txHash := fmt.Sprintf("0xfill%016x", ev.BlockNumber)

	logger.Info().
		Str("tx_hash", txHash).
		Uint64("block_number", ev.BlockNumber).
		Msg("destination fill succeeded")

	return &orchestrator.ExecutionResult{
		Success: true,
		TxHash:  txHash,
	}, nil
}

// FinalizeExecutor simulates the origin-chain escrow claim. It retrieves the
// stored signature itself, as a real finalizer would: the user never
// re-signs.
type FinalizeExecutor struct {
	store       *store.Store
	MinLatency  int
	MaxLatency  int
	SuccessRate float64
}

func NewFinalizeExecutor(st *store.Store) *FinalizeExecutor {
	return &FinalizeExecutor{
		store:       st,
		MinLatency:  5,
		MaxLatency:  50,
		SuccessRate: 0.95,
	}
}

func (e *FinalizeExecutor) FinalizeOrder(_ context.Context, orderID string) (*orchestrator.ExecutionResult, error) {
	logger := log.With().
		Str("component", "chainsim").
		Str("order_id", orderID).
		Logger()

	record, err := e.store.Get(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	if len(record.Signature) == 0 {
		return nil, fmt.Errorf("no stored signature for order %s", orderID)
	}

	logger.Info().Uint64("origin_chain", record.Order.OriginChainID).Msg("attempting origin claim")

	latency := rand.Intn(e.MaxLatency-e.MinLatency+1) + e.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	if rand.Float64() > e.SuccessRate {
		logger.Warn().Msg("origin claim failed")
		return nil, fmt.Errorf("claim reverted on chain %d", record.Order.OriginChainID)
	}

	txHash := fmt.Sprintf("0xc1aim%015x", time.Now().UnixNano()&0xffffffffffffff)
	logger.Info().Str("tx_hash", txHash).Msg("origin claim succeeded")

	return &orchestrator.ExecutionResult{
		Success: true,
		TxHash:  txHash,
	}, nil
}
