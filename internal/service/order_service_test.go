package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavo/poolpilot/internal/domain"
)

// fakeUpstream records submitted orders.
type fakeUpstream struct {
	mu        sync.Mutex
	requests  []domain.OrderRequest
	nextID    int
	terminal  *domain.Order
	createErr error // returned by the next CreateOrder, then cleared
}

func (f *fakeUpstream) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		return domain.OrderHandle{}, err
	}
	f.nextID++
	f.requests = append(f.requests, req)
	return domain.OrderHandle{ID: fmt.Sprintf("ord-%d", f.nextID), Status: domain.OrderStatusPending}, nil
}

func (f *fakeUpstream) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	return domain.Order{ID: orderID, Status: domain.OrderStatusPending}, nil
}

func (f *fakeUpstream) AwaitTerminal(ctx context.Context, orderID string, _ time.Duration) (domain.Order, error) {
	if f.terminal != nil {
		return *f.terminal, nil
	}
	return f.GetOrder(ctx, orderID)
}

// recordingNotifier collects notified events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// fakeLimiter allows a fixed number of requests.
type fakeLimiter struct {
	mu        sync.Mutex
	remaining int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return false, nil
	}
	f.remaining--
	return true, nil
}

// recordingAudit collects audit events.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *recordingAudit) List(_ context.Context, _ int) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *recordingAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Event
	}
	return out
}

func testOrderRequest(price float64) domain.OrderRequest {
	return domain.OrderRequest{
		InstanceID:    "inst-1",
		WalletAddress: "0x00000000000000000000000000000000DEADBEEF",
		TradingPair:   "TOKEN/USDC",
		BaseToken:     "TOKEN",
		QuoteToken:    "USDC",
		PoolID:        "pool-1",
		TargetPrice:   price,
		IsBuy:         true,
		Amount:        100,
	}
}

func TestOrderService_CreateOrderSetsClientKey(t *testing.T) {
	up := &fakeUpstream{}
	audit := &recordingAudit{}
	svc := NewOrderService(up, nil, audit, slog.Default(), 10, time.Second, time.Minute)

	handle, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", handle.ID)

	require.Len(t, up.requests, 1)
	assert.Len(t, up.requests[0].ClientKey, 64)
	assert.Contains(t, audit.events(), "order_placed")
}

func TestOrderService_ClientKeyDeterministic(t *testing.T) {
	a := clientKey(testOrderRequest(0.05))
	b := clientKey(testOrderRequest(0.05))
	assert.Equal(t, a, b)

	// The key is case-insensitive on the wallet address.
	req := testOrderRequest(0.05)
	req.WalletAddress = "0x00000000000000000000000000000000deadbeef"
	assert.Equal(t, a, clientKey(req))

	assert.NotEqual(t, a, clientKey(testOrderRequest(0.06)))

	// Instances sharing a wallet and pool derive distinct keys.
	req = testOrderRequest(0.05)
	req.InstanceID = "inst-2"
	assert.NotEqual(t, a, clientKey(req))

	// So do distinct grid slots within one instance.
	req = testOrderRequest(0.05)
	req.Slot = 3
	assert.NotEqual(t, a, clientKey(req))
}

func TestOrderService_DuplicateSuppressedWithinWindow(t *testing.T) {
	up := &fakeUpstream{}
	svc := NewOrderService(up, nil, nil, slog.Default(), 10, time.Second, time.Minute)

	_, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Len(t, up.requests, 1)

	// A different order is not a duplicate.
	_, err = svc.CreateOrder(context.Background(), testOrderRequest(0.07))
	assert.NoError(t, err)
}

func TestOrderService_FailedCreateStaysRetryable(t *testing.T) {
	up := &fakeUpstream{createErr: fmt.Errorf("upstream unavailable")}
	svc := NewOrderService(up, nil, nil, slog.Default(), 10, time.Second, time.Minute)

	_, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.Error(t, err)
	assert.Empty(t, up.requests)

	// The rejected submission did not enter the duplicate window, so the
	// identical retry on the next tick reaches the upstream.
	handle, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", handle.ID)
	assert.Len(t, up.requests, 1)
}

func TestOrderService_TerminalOrderFreesClientKey(t *testing.T) {
	up := &fakeUpstream{}
	svc := NewOrderService(up, nil, nil, slog.Default(), 10, time.Second, time.Minute)

	handle, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)

	// Once the order settles, the same identity may be placed again (a
	// grid re-arming a completed rung).
	up.terminal = &domain.Order{ID: handle.ID, Status: domain.OrderStatusCompleted, ExecutedPrice: 0.05}
	_, err = svc.AwaitTerminal(context.Background(), handle.ID, time.Second)
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	assert.NoError(t, err)
	assert.Len(t, up.requests, 2)
}

func TestOrderService_RateLimited(t *testing.T) {
	up := &fakeUpstream{}
	svc := NewOrderService(up, &fakeLimiter{remaining: 1}, nil, slog.Default(), 1, time.Second, time.Minute)

	_, err := svc.CreateOrder(context.Background(), testOrderRequest(0.05))
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), testOrderRequest(0.06))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Len(t, up.requests, 1)
}

func TestOrderService_AwaitTerminalFailureNotifies(t *testing.T) {
	up := &fakeUpstream{terminal: &domain.Order{
		ID:           "ord-9",
		Status:       domain.OrderStatusFailed,
		ErrorMessage: "insufficient liquidity",
	}}
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}
	svc := NewOrderService(up, nil, audit, slog.Default(), 10, time.Second, time.Minute)
	svc.WithNotifier(notifier)

	order, err := svc.AwaitTerminal(context.Background(), "ord-9", time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Contains(t, audit.events(), "order_failed")
	assert.Equal(t, []string{"order_failed"}, notifier.events)
}

func TestDedup_ExpiryAndCleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	// Checking never records.
	assert.False(t, d.IsDuplicate("k"))
	assert.False(t, d.IsDuplicate("k"))

	d.Record("k")
	assert.True(t, d.IsDuplicate("k"))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, d.IsDuplicate("k"))

	d.Record("k")
	time.Sleep(15 * time.Millisecond)
	d.Cleanup()
	d.mu.Lock()
	assert.Empty(t, d.seen)
	d.mu.Unlock()
}

func TestDedup_ForgetDropsKeyEarly(t *testing.T) {
	d := NewDedup(time.Hour)

	d.Record("k")
	require.True(t, d.IsDuplicate("k"))

	d.Forget("k")
	assert.False(t, d.IsDuplicate("k"))
}
