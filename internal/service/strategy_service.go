package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Scheduler is the subset of the engine the control surface needs.
type Scheduler interface {
	Add(inst domain.StrategyInstance)
	Remove(id string)
	Get(id string) (domain.StrategyInstance, bool)
	List() []domain.StrategyInstance
	SetActive(id string, active bool, reason string) error
}

// InstanceView is an instance decorated with live display fields.
type InstanceView struct {
	domain.StrategyInstance

	// CurrentPrice is the latest pool price, zero when unavailable.
	CurrentPrice float64 `json:"current_price,omitempty"`

	// DistanceToTargetPct is how far the current price sits from the target,
	// as a percentage. Only set for price-target instances with a price.
	DistanceToTargetPct float64 `json:"distance_to_target_pct,omitempty"`

	// OpenOrders counts order ids the instance is currently tracking.
	OpenOrders int `json:"open_orders"`
}

// StrategyService is the control surface for strategy instances: create,
// start, stop, delete, and inspect. It keeps the store and the running
// engine in step.
type StrategyService struct {
	store     domain.StrategyStore
	scheduler Scheduler
	oracle    domain.PriceOracle
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewStrategyService creates a StrategyService.
func NewStrategyService(
	store domain.StrategyStore,
	scheduler Scheduler,
	oracle domain.PriceOracle,
	audit domain.AuditStore,
	logger *slog.Logger,
) *StrategyService {
	return &StrategyService{
		store:     store,
		scheduler: scheduler,
		oracle:    oracle,
		audit:     audit,
		logger:    logger.With(slog.String("component", "strategy_service")),
	}
}

// Create validates, persists, and schedules a new instance. The id is
// generated when empty. A grid whose spacing collapses below a sane fraction
// of its lower bound is accepted with a warning.
func (s *StrategyService) Create(ctx context.Context, inst domain.StrategyInstance) (domain.StrategyInstance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	inst.IsActive = true
	inst.StopReason = ""

	if err := inst.Validate(); err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("strategy_service: validate instance: %w", err)
	}
	if inst.Kind == domain.KindGrid && inst.Config.Grid.TooDense() {
		s.logger.WarnContext(ctx, "grid spacing is very tight relative to the lower bound",
			slog.String("instance", inst.ID),
			slog.Float64("spacing", inst.Config.Grid.Spacing()),
			slog.Float64("lower_price", inst.Config.Grid.LowerPrice),
		)
	}

	if err := s.store.Create(ctx, inst); err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("strategy_service: persist instance: %w", err)
	}
	s.scheduler.Add(inst)

	s.logger.InfoContext(ctx, "instance created",
		slog.String("instance", inst.ID),
		slog.String("kind", string(inst.Kind)),
		slog.String("pair", inst.Config.TradingPair),
	)
	if s.audit != nil {
		_ = s.audit.Log(ctx, "instance_created", map[string]any{
			"instance": inst.ID,
			"kind":     string(inst.Kind),
			"pair":     inst.Config.TradingPair,
			"pool":     inst.Config.PoolID,
		})
	}

	return inst, nil
}

// Start reactivates a stopped instance.
func (s *StrategyService) Start(ctx context.Context, id string) error {
	if err := s.store.SetActive(ctx, id, true, ""); err != nil {
		return fmt.Errorf("strategy_service: start %s: %w", id, err)
	}
	if err := s.scheduler.SetActive(id, true, ""); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("strategy_service: start %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "instance started", slog.String("instance", id))
	return nil
}

// Stop deactivates an instance with the given reason. Open orders keep their
// server-side state; the instance simply stops reacting to them.
func (s *StrategyService) Stop(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "stopped by user"
	}
	if err := s.store.SetActive(ctx, id, false, reason); err != nil {
		return fmt.Errorf("strategy_service: stop %s: %w", id, err)
	}
	if err := s.scheduler.SetActive(id, false, reason); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("strategy_service: stop %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "instance stopped",
		slog.String("instance", id),
		slog.String("reason", reason),
	)
	if s.audit != nil {
		_ = s.audit.Log(ctx, "instance_stopped", map[string]any{
			"instance": id,
			"reason":   reason,
		})
	}
	return nil
}

// Delete removes an instance from the store and the scheduler.
func (s *StrategyService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("strategy_service: delete %s: %w", id, err)
	}
	s.scheduler.Remove(id)
	s.logger.InfoContext(ctx, "instance deleted", slog.String("instance", id))
	return nil
}

// Get returns one instance with live display fields.
func (s *StrategyService) Get(ctx context.Context, id string) (InstanceView, error) {
	inst, ok := s.scheduler.Get(id)
	if !ok {
		stored, err := s.store.Get(ctx, id)
		if err != nil {
			return InstanceView{}, fmt.Errorf("strategy_service: get %s: %w", id, err)
		}
		inst = stored
	}
	return s.decorate(ctx, inst), nil
}

// List returns all instances with live display fields.
func (s *StrategyService) List(ctx context.Context) ([]InstanceView, error) {
	instances := s.scheduler.List()
	out := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, s.decorate(ctx, inst))
	}
	return out, nil
}

// decorate fills in display fields. Price lookups are best effort; a missing
// price leaves the fields zero.
func (s *StrategyService) decorate(ctx context.Context, inst domain.StrategyInstance) InstanceView {
	view := InstanceView{
		StrategyInstance: inst,
		OpenOrders:       inst.OpenOrderCount(),
	}

	if s.oracle == nil {
		return view
	}
	price, err := s.oracle.GetPrice(ctx, inst.Config.PoolID, inst.Config.BaseToken)
	if err != nil {
		return view
	}
	view.CurrentPrice = price

	if inst.Kind == domain.KindPriceTarget && inst.Config.PriceTarget != nil && price > 0 {
		target := inst.Config.PriceTarget.TargetPrice
		view.DistanceToTargetPct = (target - price) / price * 100
	}
	return view
}
