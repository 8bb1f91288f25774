// Package service wires domain operations together: order placement with
// safety rails and the strategy instance control surface.
package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Notifier is the subset of the notification layer this package needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderService fronts the order-execution client with per-wallet rate
// limiting, idempotency keys, and duplicate suppression. Evaluators talk to
// this, never to the execution client directly.
type OrderService struct {
	upstream domain.OrderService
	limiter  domain.RateLimiter
	dedup    *Dedup
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger

	rateLimit  int
	rateWindow time.Duration

	mu       sync.Mutex
	liveKeys map[string]string // order id -> client key, until terminal
}

// NewOrderService creates an OrderService. limiter and audit may be nil; the
// corresponding checks are skipped.
func NewOrderService(
	upstream domain.OrderService,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	logger *slog.Logger,
	rateLimit int,
	rateWindow time.Duration,
	dedupTTL time.Duration,
) *OrderService {
	return &OrderService{
		upstream:   upstream,
		limiter:    limiter,
		dedup:      NewDedup(dedupTTL),
		audit:      audit,
		logger:     logger.With(slog.String("component", "order_service")),
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
		liveKeys:   make(map[string]string),
	}
}

// WithNotifier attaches a notifier for order failure alerts.
func (s *OrderService) WithNotifier(n Notifier) *OrderService {
	s.notifier = n
	return s
}

// clientKey derives a deterministic idempotency key from the order identity:
// requesting instance, grid slot, wallet, pool, side and price/amount. Two
// submissions of the same logical order map to the same key, so retries and
// accidental duplicates collapse, while distinct instances sharing a wallet
// and pool derive distinct keys.
func clientKey(req domain.OrderRequest) string {
	h := sha3.NewLegacyKeccak256()
	fields := []string{
		req.InstanceID,
		strconv.Itoa(req.Slot),
		strings.ToLower(req.WalletAddress),
		req.PoolID,
		req.TradingPair,
		strconv.FormatBool(req.IsBuy),
		strconv.FormatBool(req.TriggerAbove),
		strconv.FormatFloat(req.TargetPrice, 'f', -1, 64),
		strconv.FormatFloat(req.Amount, 'f', -1, 64),
	}
	h.Write([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// CreateOrder checks the wallet rate limit and the duplicate window, then
// submits the order upstream with a derived client key and audits the
// placement.
func (s *OrderService) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "orders:"+strings.ToLower(req.WalletAddress), s.rateLimit, s.rateWindow)
		if err != nil {
			return domain.OrderHandle{}, fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.OrderHandle{}, fmt.Errorf("order_service: wallet %s: %w", req.WalletAddress, domain.ErrRateLimited)
		}
	}

	req.ClientKey = clientKey(req)
	if s.dedup.IsDuplicate(req.ClientKey) {
		return domain.OrderHandle{}, fmt.Errorf("order_service: client key %s: %w", req.ClientKey, domain.ErrDuplicateOrder)
	}

	handle, err := s.upstream.CreateOrder(ctx, req)
	if err != nil {
		// Nothing was recorded, so the identical retry next tick goes
		// through.
		return domain.OrderHandle{}, fmt.Errorf("order_service: create order: %w", err)
	}

	// The key enters the duplicate window only once the order is accepted,
	// and stays there until the order is observed terminal.
	s.dedup.Record(req.ClientKey)
	s.mu.Lock()
	s.liveKeys[handle.ID] = req.ClientKey
	s.mu.Unlock()

	side := "sell"
	if req.IsBuy {
		side = "buy"
	}
	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", handle.ID),
		slog.String("pool", req.PoolID),
		slog.String("side", side),
		slog.Float64("target_price", req.TargetPrice),
		slog.Float64("amount", req.Amount),
	)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "order_placed", map[string]any{
			"order_id":     handle.ID,
			"pool":         req.PoolID,
			"pair":         req.TradingPair,
			"side":         side,
			"target_price": req.TargetPrice,
			"amount":       req.Amount,
			"client_key":   req.ClientKey,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return handle, nil
}

// GetOrder fetches the current state of an order from the execution service.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.upstream.GetOrder(ctx, orderID)
	if err == nil && order.Status.Terminal() {
		s.releaseKey(orderID)
	}
	return order, err
}

// releaseKey frees the duplicate window of a settled order so a follow-up
// placement with the same identity (a grid re-arming the same rung) is
// accepted.
func (s *OrderService) releaseKey(orderID string) {
	s.mu.Lock()
	key, ok := s.liveKeys[orderID]
	if ok {
		delete(s.liveKeys, orderID)
	}
	s.mu.Unlock()
	if ok {
		s.dedup.Forget(key)
	}
}

// AwaitTerminal blocks until the order settles or maxWait elapses. A terminal
// failure is audited and fanned out to the notifier.
func (s *OrderService) AwaitTerminal(ctx context.Context, orderID string, maxWait time.Duration) (domain.Order, error) {
	order, err := s.upstream.AwaitTerminal(ctx, orderID, maxWait)
	if err == nil && order.Status.Terminal() {
		s.releaseKey(orderID)
	}
	if err == nil && order.Status == domain.OrderStatusFailed {
		s.logger.WarnContext(ctx, "order failed",
			slog.String("order_id", order.ID),
			slog.String("error", order.ErrorMessage),
		)
		if s.audit != nil {
			_ = s.audit.Log(ctx, "order_failed", map[string]any{
				"order_id": order.ID,
				"error":    order.ErrorMessage,
			})
		}
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, "order_failed", "Order failed",
				fmt.Sprintf("order %s: %s", order.ID, order.ErrorMessage))
		}
	}
	return order, err
}

// RunDedupCleanup drops expired duplicate-window entries until the context is
// cancelled.
func (s *OrderService) RunDedupCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dedup.Cleanup()
		}
	}
}

var _ domain.OrderService = (*OrderService)(nil)
