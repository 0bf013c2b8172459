package types

import (
	"time"

	"gorm.io/gorm"
)

// Order is a user-signed cross-chain intent: inputs escrowed on the origin
// chain in exchange for mandated outputs delivered on the destination chain.
// An order is immutable once admitted.
type Order struct {
	UserAddress        string           `json:"user_address"`
	OriginChainID      uint64           `json:"origin_chain_id"`
	DestinationChainID uint64           `json:"destination_chain_id"`
	Expiry             time.Time        `json:"expiry"`
	FillDeadline       time.Time        `json:"fill_deadline"`
	OracleAddress      string           `json:"oracle_address"`
	Inputs             []TokenInput     `json:"inputs"`
	Outputs            []MandatedOutput `json:"outputs"`
}

// TokenInput is one escrowed (token, amount) pair on the origin chain.
type TokenInput struct {
	Token  string `json:"token"`
	Amount *U256  `json:"amount"`
}

// MandatedOutput is one output the solver must deliver on the destination
// chain. Call and Context are opaque bytes forwarded to the settler.
type MandatedOutput struct {
	Settler   string `json:"settler"`
	Token     string `json:"token"`
	Amount    *U256  `json:"amount"`
	Recipient string `json:"recipient"`
	Call      []byte `json:"call,omitempty"`
	Context   []byte `json:"context,omitempty"`
}

// OrderStatus tracks an order through the settlement lifecycle.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusFilled     OrderStatus = "FILLED"
	StatusFinalized  OrderStatus = "FINALIZED"
	StatusFailed     OrderStatus = "FAILED"
	StatusExpired    OrderStatus = "EXPIRED"
)

// Terminal reports whether the status is final. Terminal statuses are
// immutable.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFinalized, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// StoredOrderRecord is the persisted view of an admitted order. The signature
// is kept alongside the order because the finalize step needs it later and
// must not require re-signing; it is write-once.
type StoredOrderRecord struct {
	gorm.Model `json:"-"`
	OrderID    string      `gorm:"uniqueIndex" json:"order_id"`
	Order      Order       `gorm:"serializer:json" json:"order"`
	Signature  []byte      `json:"signature"`
	AdmittedAt time.Time   `json:"admitted_at"`
	Status     OrderStatus `json:"status"`
	Source     string      `json:"source,omitempty"`
	ClientID   string      `json:"client_id,omitempty"`
}

// OrderMetadata is free-form admission context supplied by the caller.
type OrderMetadata struct {
	Source   string `json:"source,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}
