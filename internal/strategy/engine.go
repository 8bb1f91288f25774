package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Notifier is the subset of the notification layer the engine needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// entry is one slot in the engine's instance index.
type entry struct {
	inst     *domain.StrategyInstance
	inflight bool
}

// Engine is the scheduler: one control loop ticks every active instance on a
// fixed cadence. Strategy-specific intervals are enforced inside evaluators
// from stored timestamps, so the cadence here only bounds reaction latency.
//
// Concurrency model: ticks for different instances run concurrently; at most
// one tick per instance is ever in flight. Each tick works on a private clone
// of the instance and commits the result back under the engine lock, so no
// instance state is shared between goroutines. A panic or error inside one
// instance's tick never affects the loop or other instances.
type Engine struct {
	registry *Registry
	store    domain.StrategyStore
	audit    domain.AuditStore
	logger   *slog.Logger
	interval time.Duration

	notifier Notifier
	archiver domain.Archiver
	locks    domain.LockManager
	lockTTL  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	instances map[string]*entry
	wg        sync.WaitGroup
}

// NewEngine creates an Engine ticking on the given cadence.
func NewEngine(registry *Registry, store domain.StrategyStore, audit domain.AuditStore, logger *slog.Logger, interval time.Duration) *Engine {
	return &Engine{
		registry:  registry,
		store:     store,
		audit:     audit,
		logger:    logger.With(slog.String("component", "strategy_engine")),
		interval:  interval,
		now:       time.Now,
		instances: make(map[string]*entry),
	}
}

// WithNotifier attaches a notifier for deactivation and panic alerts.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithArchiver attaches a run-history archiver invoked when an instance stops.
func (e *Engine) WithArchiver(a domain.Archiver) *Engine {
	e.archiver = a
	return e
}

// WithLocks enables per-instance distributed locks around each tick,
// preserving the single-flight guarantee across multiple engine processes.
func (e *Engine) WithLocks(lm domain.LockManager, ttl time.Duration) *Engine {
	e.locks = lm
	e.lockTTL = ttl
	return e
}

// WithClock overrides the engine clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Load populates the instance index from the store. Called once at startup so
// active instances resume ticking after a restart.
func (e *Engine) Load(ctx context.Context) error {
	instances, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("engine: load instances: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range instances {
		inst := instances[i].Clone()
		e.instances[inst.ID] = &entry{inst: &inst}
	}
	e.logger.InfoContext(ctx, "instances loaded", slog.Int("count", len(instances)))
	return nil
}

// Add registers a new instance with the scheduler. The instance must already
// be persisted.
func (e *Engine) Add(inst domain.StrategyInstance) {
	c := inst.Clone()
	e.mu.Lock()
	e.instances[c.ID] = &entry{inst: &c}
	e.mu.Unlock()
}

// Remove drops an instance from the scheduler. An in-flight tick runs to
// completion but its result is discarded.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	delete(e.instances, id)
	e.mu.Unlock()
}

// Get returns a deep copy of the live instance.
func (e *Engine) Get(id string) (domain.StrategyInstance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.instances[id]
	if !ok {
		return domain.StrategyInstance{}, false
	}
	return ent.inst.Clone(), true
}

// List returns deep copies of all live instances, sorted by id.
func (e *Engine) List() []domain.StrategyInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.StrategyInstance, 0, len(e.instances))
	for _, ent := range e.instances {
		out = append(out, ent.inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive starts or stops an instance. A stop takes effect on the next
// scheduling decision; an in-flight tick runs to completion and its commit
// preserves the stop.
func (e *Engine) SetActive(id string, active bool, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.instances[id]
	if !ok {
		return fmt.Errorf("engine: instance %s: %w", id, domain.ErrNotFound)
	}
	ent.inst.IsActive = active
	if active {
		ent.inst.StopReason = ""
	} else {
		ent.inst.StopReason = reason
	}
	return nil
}

// Run starts the control loop and blocks until the context is cancelled.
// In-flight ticks are waited for before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started", slog.Duration("interval", e.interval))
	defer e.logger.Info("engine stopped")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.dispatch(ctx)
		}
	}
}

// dispatch selects every active instance with no tick in flight and starts
// one goroutine per selection.
func (e *Engine) dispatch(ctx context.Context) {
	e.mu.Lock()
	due := make([]string, 0, len(e.instances))
	for id, ent := range e.instances {
		if ent.inst.IsActive && !ent.inflight {
			ent.inflight = true
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		e.wg.Add(1)
		go e.tickInstance(ctx, id)
	}
}

// TickOnce runs a single synchronous scheduling pass. Intended for tests and
// for callers that drive the cadence themselves.
func (e *Engine) TickOnce(ctx context.Context) {
	e.dispatch(ctx)
	e.wg.Wait()
}

// tickInstance runs one isolated tick: clone, evaluate, commit, persist.
func (e *Engine) tickInstance(ctx context.Context, id string) {
	defer e.wg.Done()
	defer e.clearInflight(id)

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "tick panicked",
				slog.String("instance", id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if e.audit != nil {
				_ = e.audit.Log(ctx, "tick_panic", map[string]any{
					"instance": id,
					"panic":    fmt.Sprint(r),
				})
			}
			if e.notifier != nil {
				_ = e.notifier.Notify(ctx, "tick_panic", "Tick panicked",
					fmt.Sprintf("instance %s: %v", id, r))
			}
		}
	}()

	// Clustered deployments wrap each tick in a distributed lock; a held
	// lock means another process is ticking this instance right now.
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "instance:"+id, e.lockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				e.logger.WarnContext(ctx, "acquire instance lock failed",
					slog.String("instance", id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		defer unlock()
	}

	snapshot, ok := e.Get(id)
	if !ok || !snapshot.IsActive {
		return
	}

	evaluator, err := e.registry.Get(snapshot.Kind)
	if err != nil {
		e.logger.ErrorContext(ctx, "no evaluator for kind",
			slog.String("instance", id),
			slog.String("kind", string(snapshot.Kind)),
		)
		return
	}

	if err := evaluator.Tick(ctx, &snapshot); err != nil {
		e.logger.WarnContext(ctx, "tick failed",
			slog.String("instance", id),
			slog.String("kind", string(snapshot.Kind)),
			slog.String("error", err.Error()),
		)
		// The instance stays registered and retries next tick. State
		// mutations made before the error still commit below.
	}

	stopped, known := e.commit(id, &snapshot)
	if !known {
		// Removed while ticking; the result has no home and is not
		// persisted.
		return
	}

	snapshot.UpdatedAt = e.now()
	if err := e.store.SaveState(ctx, id, snapshot.IsActive, snapshot.StopReason, snapshot.State); err != nil {
		e.logger.ErrorContext(ctx, "persist state failed",
			slog.String("instance", id),
			slog.String("error", err.Error()),
		)
	}

	if stopped {
		e.onDeactivated(ctx, snapshot)
	}
}

// commit merges the ticked clone back into the index. An external stop issued
// while the tick was in flight wins over the clone's active flag. stopped is
// true when this tick transitioned the instance from active to inactive;
// known is false when the instance was removed mid-tick and the clone was
// discarded.
func (e *Engine) commit(id string, ticked *domain.StrategyInstance) (stopped, known bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.instances[id]
	if !ok {
		return false, false
	}

	if !ent.inst.IsActive && ticked.IsActive {
		ticked.IsActive = false
		ticked.StopReason = ent.inst.StopReason
	}
	stopped = ent.inst.IsActive && !ticked.IsActive

	c := ticked.Clone()
	ent.inst = &c
	return stopped, true
}

// onDeactivated records the stop reason and fans out to the notifier and the
// run-history archiver.
func (e *Engine) onDeactivated(ctx context.Context, inst domain.StrategyInstance) {
	e.logger.InfoContext(ctx, "instance deactivated",
		slog.String("instance", inst.ID),
		slog.String("kind", string(inst.Kind)),
		slog.String("reason", inst.StopReason),
	)

	if e.audit != nil {
		if err := e.audit.Log(ctx, "instance_deactivated", map[string]any{
			"instance": inst.ID,
			"kind":     string(inst.Kind),
			"reason":   inst.StopReason,
		}); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("instance", inst.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, "instance_deactivated", "Strategy deactivated",
			fmt.Sprintf("instance %s (%s): %s", inst.ID, inst.Kind, inst.StopReason))
	}

	if e.archiver != nil {
		if err := e.archiver.ArchiveRun(ctx, inst, inst.StopReason); err != nil {
			e.logger.WarnContext(ctx, "archive run failed",
				slog.String("instance", inst.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) clearInflight(id string) {
	e.mu.Lock()
	if ent, ok := e.instances[id]; ok {
		ent.inflight = false
	}
	e.mu.Unlock()
}
