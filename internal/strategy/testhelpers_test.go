package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// fakeOracle serves a scripted price.
type fakeOracle struct {
	mu    sync.Mutex
	price float64
	err   error
	calls int
}

func (f *fakeOracle) GetPrice(_ context.Context, _, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fakeOracle) setPrice(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeOrders records created orders and lets tests drive their lifecycle.
type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	requests  []domain.OrderRequest
	nextID    int
	createErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]domain.Order)}
}

func (f *fakeOrders) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.OrderHandle{}, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.orders[id] = domain.Order{
		ID:           id,
		IsBuy:        req.IsBuy,
		TargetPrice:  req.TargetPrice,
		TriggerAbove: req.TriggerAbove,
		Amount:       req.Amount,
		Status:       domain.OrderStatusPending,
	}
	f.requests = append(f.requests, req)
	return domain.OrderHandle{ID: id, Status: domain.OrderStatusPending}, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) AwaitTerminal(ctx context.Context, orderID string, _ time.Duration) (domain.Order, error) {
	return f.GetOrder(ctx, orderID)
}

func (f *fakeOrders) complete(orderID string, executedPrice float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = domain.OrderStatusCompleted
	o.ExecutedPrice = executedPrice
	f.orders[orderID] = o
}

func (f *fakeOrders) fail(orderID, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = domain.OrderStatusFailed
	o.ErrorMessage = msg
	f.orders[orderID] = o
}

func (f *fakeOrders) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeOrders) request(i int) domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeOrders) lastRequest() domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// memStore is an in-memory domain.StrategyStore for engine tests.
type memStore struct {
	mu        sync.Mutex
	instances map[string]domain.StrategyInstance
	saves     int
}

func newMemStore() *memStore {
	return &memStore{instances: make(map[string]domain.StrategyInstance)}
}

func (m *memStore) Create(_ context.Context, inst domain.StrategyInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (domain.StrategyInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.StrategyInstance{}, domain.ErrNotFound
	}
	return inst.Clone(), nil
}

func (m *memStore) List(_ context.Context) ([]domain.StrategyInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StrategyInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Clone())
	}
	return out, nil
}

func (m *memStore) SaveState(_ context.Context, id string, active bool, stopReason string, state domain.InstanceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.ErrNotFound
	}
	inst.IsActive = active
	inst.StopReason = stopReason
	inst.State = state.Clone()
	m.instances[id] = inst
	m.saves++
	return nil
}

func (m *memStore) SetActive(_ context.Context, id string, active bool, stopReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.ErrNotFound
	}
	inst.IsActive = active
	inst.StopReason = stopReason
	m.instances[id] = inst
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// memAudit collects audit events in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(_ context.Context, _ int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

const testWallet = "0x00000000000000000000000000000000deadbeef"

func baseInstance(id string, kind domain.StrategyKind) domain.StrategyInstance {
	return domain.StrategyInstance{
		ID:       id,
		Kind:     kind,
		IsActive: true,
		Config: domain.InstanceConfig{
			TradingPair:   "TOKEN/USDC",
			BaseToken:     "TOKEN",
			QuoteToken:    "USDC",
			PoolID:        "pool-1",
			WalletAddress: testWallet,
		},
	}
}
