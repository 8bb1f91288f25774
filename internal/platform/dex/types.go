package dex

import "time"

// poolPriceResponse is the REST payload for a pool price query.
type poolPriceResponse struct {
	PoolID    string  `json:"pool_id"`
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	Timestamp int64   `json:"timestamp"`
}

// WSCommand is the subscribe/unsubscribe envelope for the streaming endpoint.
type WSCommand struct {
	Type  string   `json:"type"`
	Pools []string `json:"pools"`
}

// priceMessage is one streamed price event.
type priceMessage struct {
	Event     string  `json:"event"`
	PoolID    string  `json:"pool_id"`
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// PriceUpdate is a decoded streaming price event.
type PriceUpdate struct {
	PoolID string
	Token  string
	Price  float64
	At     time.Time
}
