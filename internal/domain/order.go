package domain

// OrderStatus tracks the lifecycle of an order held by the external
// order-execution service.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuting OrderStatus = "executing"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// Order is the read-only view of an order as reported by the order-execution
// service. The engine never mutates orders; it only reacts to their status.
type Order struct {
	ID            string      `json:"id"`
	IsBuy         bool        `json:"is_buy"`
	TargetPrice   float64     `json:"target_price"`
	TriggerAbove  bool        `json:"trigger_above"`
	Amount        float64     `json:"amount"`
	Status        OrderStatus `json:"status"`
	ExecutedPrice float64     `json:"executed_price,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// OrderRequest is what an evaluator asks the order-execution service to do.
// InstanceID and Slot identify the requesting instance and its grid rung;
// they scope the idempotency key so instances sharing a wallet and pool never
// suppress each other. ClientKey is the derived key itself; the service layer
// fills it in.
type OrderRequest struct {
	InstanceID    string  `json:"instance_id"`
	Slot          int     `json:"slot,omitempty"`
	WalletAddress string  `json:"wallet_address"`
	TradingPair   string  `json:"trading_pair"`
	BaseToken     string  `json:"base_token"`
	QuoteToken    string  `json:"quote_token"`
	TargetPrice   float64 `json:"target_price"`
	TriggerAbove  bool    `json:"trigger_above"`
	IsBuy         bool    `json:"is_buy"`
	Amount        float64 `json:"amount"`
	PoolID        string  `json:"pool_id"`
	ClientKey     string  `json:"client_key,omitempty"`
}

// OrderHandle is returned when an order is accepted by the execution service.
type OrderHandle struct {
	ID     string      `json:"id"`
	Status OrderStatus `json:"status"`
}
