package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ksred/intent-settlement/internal/database"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/tracker"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFillExecutor struct {
	mu      sync.Mutex
	calls   int
	result  *ExecutionResult
	err     error
	release chan struct{} // when set, ExecuteFill blocks until closed
}

func (f *fakeFillExecutor) ExecuteFill(_ context.Context, _ string, _ *types.Order) (*ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.result, f.err
}

func (f *fakeFillExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFinalizeExecutor struct {
	mu     sync.Mutex
	calls  int
	result *ExecutionResult
	err    error
}

func (f *fakeFinalizeExecutor) FinalizeOrder(_ context.Context, _ string) (*ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeFinalizeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, fill *fakeFillExecutor, finalize *fakeFinalizeExecutor) (*Service, *store.Store) {
	t.Helper()
	db, err := database.NewDatabase("")
	require.NoError(t, err)
	st := store.NewStore(db, 0)
	return NewService(st, fill, finalize), st
}

func testOrder() *types.Order {
	now := time.Now()
	return &types.Order{
		UserAddress:        "0xuser",
		OriginChainID:      1,
		DestinationChainID: 42161,
		Expiry:             now.Add(time.Hour),
		FillDeadline:       now.Add(10 * time.Minute),
		Inputs: []types.TokenInput{
			{Token: "0xusdc", Amount: types.NewU256(1000)},
		},
		Outputs: []types.MandatedOutput{
			{Settler: "0xsettler", Token: "0xusdc", Amount: types.NewU256(995), Recipient: "0xrecipient"},
		},
	}
}

func waitForStatus(t *testing.T, svc *Service, orderID string, want types.OrderStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, err := svc.GetOrder(orderID)
		return err == nil && record != nil && record.Status == want
	}, 2*time.Second, 10*time.Millisecond, "order %s never reached %s", orderID, want)
}

func TestAdmitRunsPipelineToFinalized(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true, TxHash: "0xfill"}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true, TxHash: "0xclaim"}}
	svc, _ := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), &types.OrderMetadata{Source: "test"})
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	waitForStatus(t, svc, orderID, types.StatusFinalized)
	assert.Equal(t, 1, fill.callCount())
	assert.Equal(t, 1, finalize.callCount())

	assert.Equal(t, 1, svc.Stats()["orders_admitted"])
	require.Eventually(t, func() bool {
		return svc.Stats()["orders_finalized"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAdmitValidation(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	_, err := svc.Admit(nil, []byte("signature"), nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Admit(testOrder(), nil, nil)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 0, fill.callCount())
}

func TestFillFailureSkipsFinalize(t *testing.T) {
	fill := &fakeFillExecutor{err: errors.New("fill reverted")}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)

	waitForStatus(t, svc, orderID, types.StatusFailed)
	assert.Equal(t, 1, fill.callCount())
	assert.Equal(t, 0, finalize.callCount())
}

func TestFinalizeFailureMarksFailed(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{err: errors.New("claim reverted")}
	svc, _ := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)

	waitForStatus(t, svc, orderID, types.StatusFailed)
	assert.Equal(t, 1, fill.callCount())
	assert.Equal(t, 1, finalize.callCount())
}

func TestPassedDeadlineExpiresBeforeFill(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	order := testOrder()
	order.FillDeadline = time.Now().Add(-time.Minute)

	orderID, err := svc.Admit(order, []byte("signature"), nil)
	require.NoError(t, err)

	waitForStatus(t, svc, orderID, types.StatusExpired)
	assert.Equal(t, 0, fill.callCount())
	assert.Equal(t, 0, finalize.callCount())
}

func TestIdempotentResubmission(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, st := newTestService(t, fill, finalize)

	order := testOrder()
	first, err := svc.AdmitIdempotent(order, []byte("signature"), nil, "idem-1")
	require.NoError(t, err)

	second, err := svc.AdmitIdempotent(order, []byte("signature"), nil, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	waitForStatus(t, svc, first, types.StatusFinalized)
	assert.Equal(t, 1, fill.callCount())
}

func TestIdempotentResubmissionAfterExpiry(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	db, err := database.NewDatabase("")
	require.NoError(t, err)
	st := store.NewStore(db, 0)
	svc := NewService(st, fill, finalize)

	first, err := svc.AdmitIdempotent(testOrder(), []byte("signature"), nil, "idem-1")
	require.NoError(t, err)

	// Age the mapping past its TTL.
	require.NoError(t, db.Model(&store.IdempotencyRecord{}).
		Where("idempotency_key = ?", "idem-1").
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	// The key is free again: resubmission is a fresh admission, not an
	// error and not the stale order id.
	second, err := svc.AdmitIdempotent(testOrder(), []byte("signature"), nil, "idem-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	count, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The refreshed mapping answers further resubmissions with the new id.
	third, err := svc.AdmitIdempotent(testOrder(), []byte("signature"), nil, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestExpiryDuringFillSkipsFinalize(t *testing.T) {
	release := make(chan struct{})
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}, release: release}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, st := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fill.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The sweeper expires the order while the fill is in flight.
	applied, err := st.UpdateStatusIfNotTerminal(orderID, types.StatusExpired)
	require.NoError(t, err)
	require.True(t, applied)

	close(release)

	// The pipeline must not claim escrow for an order that reads expired.
	time.Sleep(100 * time.Millisecond)
	record, err := svc.GetOrder(orderID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.StatusExpired, record.Status)
	assert.Equal(t, 0, finalize.callCount())
}

func TestEmptyKeyFallsBackToPlainAdmission(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, st := newTestService(t, fill, finalize)

	first, err := svc.AdmitIdempotent(testOrder(), []byte("signature"), nil, "")
	require.NoError(t, err)
	second, err := svc.AdmitIdempotent(testOrder(), []byte("signature"), nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	count, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPipelineDeduplication(t *testing.T) {
	release := make(chan struct{})
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}, release: release}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)

	// A second schedule for the same order id while the first is in flight
	// must be a no-op.
	require.Eventually(t, func() bool {
		return fill.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	svc.startPipeline(orderID)

	close(release)
	waitForStatus(t, svc, orderID, types.StatusFinalized)
	assert.Equal(t, 1, fill.callCount())
	assert.Equal(t, 1, finalize.callCount())
}

func TestStopPreventsNewPipelines(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	svc.Stop()

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)

	// The record is persisted but no pipeline runs.
	time.Sleep(50 * time.Millisecond)
	record, err := svc.GetOrder(orderID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.StatusPending, record.Status)
	assert.Equal(t, 0, fill.callCount())
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	orderID, err := svc.Admit(testOrder(), []byte("signature"), nil)
	require.NoError(t, err)
	waitForStatus(t, svc, orderID, types.StatusFinalized)

	svc.setStatus(orderID, types.StatusProcessing)

	record, err := svc.GetOrder(orderID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, record.Status)
}

func TestObserveCompetitionCounters(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	require.NoError(t, svc.ObserveCompetition(&tracker.Competition{OrderID: "ORD_1", Winner: "solverA"}))
	require.NoError(t, svc.ObserveCompetition(&tracker.Competition{OrderID: "ORD_2"}))

	stats := svc.Stats()
	assert.Equal(t, 1, stats["competitions_won"])
	assert.Equal(t, 1, stats["competitions_unfilled"])
}

func TestGetOrderUnknownReturnsNil(t *testing.T) {
	fill := &fakeFillExecutor{result: &ExecutionResult{Success: true}}
	finalize := &fakeFinalizeExecutor{result: &ExecutionResult{Success: true}}
	svc, _ := newTestService(t, fill, finalize)

	record, err := svc.GetOrder("ORD_missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}
