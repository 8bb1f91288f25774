package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantavo/poolpilot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL. Instance
// config and runtime state are stored as JSONB columns.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Create inserts a new instance. It returns domain.ErrAlreadyExists when the
// id is taken.
func (s *StrategyStore) Create(ctx context.Context, inst domain.StrategyInstance) error {
	configJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal instance config: %w", err)
	}
	stateJSON, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal instance state: %w", err)
	}

	const query = `
		INSERT INTO strategy_instances (id, kind, config, state, is_active, stop_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		inst.ID, string(inst.Kind), configJSON, stateJSON,
		inst.IsActive, inst.StopReason, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: instance %s: %w", inst.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create instance %s: %w", inst.ID, err)
	}
	return nil
}

// Get returns one instance by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.StrategyInstance, error) {
	const query = `
		SELECT id, kind, config, state, is_active, stop_reason, created_at, updated_at
		FROM strategy_instances WHERE id = $1`
	inst, err := scanInstance(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyInstance{}, fmt.Errorf("postgres: instance %s: %w", id, domain.ErrNotFound)
		}
		return domain.StrategyInstance{}, fmt.Errorf("postgres: get instance %s: %w", id, err)
	}
	return inst, nil
}

// List returns all instances ordered by creation time.
func (s *StrategyStore) List(ctx context.Context) ([]domain.StrategyInstance, error) {
	const query = `
		SELECT id, kind, config, state, is_active, stop_reason, created_at, updated_at
		FROM strategy_instances ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instances: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list instances rows: %w", err)
	}
	return out, nil
}

// SaveState writes the mutable part of an instance after a tick.
func (s *StrategyStore) SaveState(ctx context.Context, id string, active bool, stopReason string, state domain.InstanceState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal instance state: %w", err)
	}

	const query = `
		UPDATE strategy_instances
		SET state = $2, is_active = $3, stop_reason = $4, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, stateJSON, active, stopReason)
	if err != nil {
		return fmt.Errorf("postgres: save state for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetActive flips the active flag without touching strategy state.
func (s *StrategyStore) SetActive(ctx context.Context, id string, active bool, stopReason string) error {
	const query = `
		UPDATE strategy_instances
		SET is_active = $2, stop_reason = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, active, stopReason)
	if err != nil {
		return fmt.Errorf("postgres: set active for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes an instance.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategy_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete instance %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: instance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanInstance(row pgx.Row) (domain.StrategyInstance, error) {
	var (
		inst       domain.StrategyInstance
		kind       string
		configJSON []byte
		stateJSON  []byte
	)
	err := row.Scan(&inst.ID, &kind, &configJSON, &stateJSON,
		&inst.IsActive, &inst.StopReason, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return domain.StrategyInstance{}, err
	}
	inst.Kind = domain.StrategyKind(kind)
	if err := json.Unmarshal(configJSON, &inst.Config); err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &inst.State); err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return inst, nil
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
