package domain

import (
	"context"
	"io"
	"time"
)

// PriceOracle returns the current exchange rate of a base token inside a
// pool. Implementations return ErrPriceUnavailable (possibly wrapped) when no
// usable price exists; callers treat that as a skipped tick, not a failure.
type PriceOracle interface {
	GetPrice(ctx context.Context, poolID, baseToken string) (float64, error)
}

// OrderService is the engine's view of the external order-execution service.
// CreateOrder requests a new order and returns its handle; order state then
// transitions asynchronously and is observed via GetOrder. AwaitTerminal
// polls with bounded backoff until the order reaches a terminal status or the
// wait budget is exhausted.
type OrderService interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	AwaitTerminal(ctx context.Context, orderID string, maxWait time.Duration) (Order, error)
}

// StrategyStore persists strategy instances: immutable config plus mutable
// runtime state, surviving restarts between ticks.
type StrategyStore interface {
	Create(ctx context.Context, inst StrategyInstance) error
	Get(ctx context.Context, id string) (StrategyInstance, error)
	List(ctx context.Context) ([]StrategyInstance, error)
	// SaveState writes the mutable part of an instance after a tick.
	SaveState(ctx context.Context, id string, active bool, stopReason string, state InstanceState) error
	SetActive(ctx context.Context, id string, active bool, stopReason string) error
	Delete(ctx context.Context, id string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine events: order
// placements, instance stops with reasons, tick panics.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// PriceCache provides fast access to the latest pool prices.
type PriceCache interface {
	SetPrice(ctx context.Context, poolID, token string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, poolID, token string) (float64, time.Time, error)
}

// LockManager provides distributed locking. Used to preserve the per-instance
// single-flight guarantee when the engine runs in more than one process.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads opaque objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver persists a run-history snapshot of an instance that stopped.
type Archiver interface {
	ArchiveRun(ctx context.Context, inst StrategyInstance, reason string) error
}
