package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavo/poolpilot/internal/domain"
)

// fakeScheduler mirrors engine registration in memory.
type fakeScheduler struct {
	mu        sync.Mutex
	instances map[string]domain.StrategyInstance
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{instances: make(map[string]domain.StrategyInstance)}
}

func (f *fakeScheduler) Add(inst domain.StrategyInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[inst.ID] = inst.Clone()
}

func (f *fakeScheduler) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
}

func (f *fakeScheduler) Get(id string) (domain.StrategyInstance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return domain.StrategyInstance{}, false
	}
	return inst.Clone(), true
}

func (f *fakeScheduler) List() []domain.StrategyInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StrategyInstance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, inst.Clone())
	}
	return out
}

func (f *fakeScheduler) SetActive(id string, active bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return domain.ErrNotFound
	}
	inst.IsActive = active
	inst.StopReason = reason
	f.instances[id] = inst
	return nil
}

// instanceStore is an in-memory domain.StrategyStore.
type instanceStore struct {
	mu        sync.Mutex
	instances map[string]domain.StrategyInstance
}

func newInstanceStore() *instanceStore {
	return &instanceStore{instances: make(map[string]domain.StrategyInstance)}
}

func (m *instanceStore) Create(_ context.Context, inst domain.StrategyInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *instanceStore) Get(_ context.Context, id string) (domain.StrategyInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.StrategyInstance{}, domain.ErrNotFound
	}
	return inst.Clone(), nil
}

func (m *instanceStore) List(_ context.Context) ([]domain.StrategyInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StrategyInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Clone())
	}
	return out, nil
}

func (m *instanceStore) SaveState(_ context.Context, id string, active bool, stopReason string, state domain.InstanceState) error {
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
	return nil
}

func (m *instanceStore) SetActive(_ context.Context, id string, active bool, stopReason string) error {
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

func (m *instanceStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.instances, id)
	return nil
}

// staticOracle returns one price for every pool.
type staticOracle struct {
	price float64
	err   error
}

func (o *staticOracle) GetPrice(_ context.Context, _, _ string) (float64, error) {
	if o.err != nil {
		return 0, o.err
	}
	return o.price, nil
}

func validInstance(kind domain.StrategyKind) domain.StrategyInstance {
	inst := domain.StrategyInstance{
		Kind: kind,
		Config: domain.InstanceConfig{
			TradingPair:   "TOKEN/USDC",
			BaseToken:     "TOKEN",
			QuoteToken:    "USDC",
			PoolID:        "pool-1",
			WalletAddress: "0x00000000000000000000000000000000deadbeef",
		},
	}
	switch kind {
	case domain.KindPriceTarget:
		inst.Config.PriceTarget = &domain.PriceTargetConfig{
			TargetPrice: 0.05, TriggerType: domain.TriggerBelow, Side: domain.SideBuy, OrderAmount: 100,
		}
	case domain.KindGrid:
		inst.Config.Grid = &domain.GridConfig{
			LowerPrice: 0.01, UpperPrice: 0.02, Levels: 3, InvestmentPerGrid: 10,
		}
	}
	return inst
}

func newStrategyService(oracle domain.PriceOracle) (*StrategyService, *instanceStore, *fakeScheduler) {
	store := newInstanceStore()
	sched := newFakeScheduler()
	svc := NewStrategyService(store, sched, oracle, &recordingAudit{}, slog.Default())
	return svc, store, sched
}

func TestStrategyService_CreatePersistsAndSchedules(t *testing.T) {
	svc, store, sched := newStrategyService(nil)

	created, err := svc.Create(context.Background(), validInstance(domain.KindPriceTarget))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	stored, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPriceTarget, stored.Kind)

	_, ok := sched.Get(created.ID)
	assert.True(t, ok)
}

func TestStrategyService_CreateRejectsInvalidConfig(t *testing.T) {
	svc, store, _ := newStrategyService(nil)

	inst := validInstance(domain.KindPriceTarget)
	inst.Config.PriceTarget.OrderAmount = -1
	_, err := svc.Create(context.Background(), inst)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestStrategyService_CreateAcceptsTightGrid(t *testing.T) {
	svc, _, _ := newStrategyService(nil)

	inst := validInstance(domain.KindGrid)
	inst.Config.Grid = &domain.GridConfig{
		LowerPrice: 100, UpperPrice: 100.05, Levels: 50, InvestmentPerGrid: 10,
	}
	created, err := svc.Create(context.Background(), inst)
	require.NoError(t, err)
	assert.True(t, created.IsActive)
}

func TestStrategyService_StopAndStart(t *testing.T) {
	svc, store, sched := newStrategyService(nil)
	created, err := svc.Create(context.Background(), validInstance(domain.KindPriceTarget))
	require.NoError(t, err)

	require.NoError(t, svc.Stop(context.Background(), created.ID, ""))
	stored, _ := store.Get(context.Background(), created.ID)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "stopped by user", stored.StopReason)
	live, _ := sched.Get(created.ID)
	assert.False(t, live.IsActive)

	require.NoError(t, svc.Start(context.Background(), created.ID))
	stored, _ = store.Get(context.Background(), created.ID)
	assert.True(t, stored.IsActive)
	assert.Empty(t, stored.StopReason)
}

func TestStrategyService_StopUnknownInstance(t *testing.T) {
	svc, _, _ := newStrategyService(nil)
	err := svc.Stop(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStrategyService_Delete(t *testing.T) {
	svc, store, sched := newStrategyService(nil)
	created, err := svc.Create(context.Background(), validInstance(domain.KindPriceTarget))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	_, err = store.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok := sched.Get(created.ID)
	assert.False(t, ok)
}

func TestStrategyService_ListDecoratesViews(t *testing.T) {
	svc, _, _ := newStrategyService(&staticOracle{price: 0.04})
	created, err := svc.Create(context.Background(), validInstance(domain.KindPriceTarget))
	require.NoError(t, err)

	views, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, created.ID, v.ID)
	assert.Equal(t, 0.04, v.CurrentPrice)
	// Target 0.05 against price 0.04 sits 25% above.
	assert.InDelta(t, 25.0, v.DistanceToTargetPct, 1e-9)
	assert.Zero(t, v.OpenOrders)
}

func TestStrategyService_ViewsSurvivePriceOutage(t *testing.T) {
	svc, _, _ := newStrategyService(&staticOracle{err: domain.ErrPriceUnavailable})
	_, err := svc.Create(context.Background(), validInstance(domain.KindPriceTarget))
	require.NoError(t, err)

	views, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Zero(t, views[0].CurrentPrice)
	assert.Zero(t, views[0].DistanceToTargetPct)
}
