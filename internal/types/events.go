package types

import "time"

// FillEventData is a successful destination-chain fill observed for an order.
type FillEventData struct {
	OrderID     string    `json:"order_id"`
	Solver      string    `json:"solver"`
	Amount      *U256     `json:"amount"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FillFailureData is a failed fill attempt. The solver identity is not always
// recoverable from the chain event.
type FillFailureData struct {
	OrderID   string    `json:"order_id"`
	Solver    string    `json:"solver,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FillStatus is the point-in-time answer from the destination chain for
// "is this order filled", independent of in-memory competition state.
type FillStatus struct {
	Filled bool   `json:"filled"`
	Solver string `json:"solver,omitempty"`
	Amount *U256  `json:"amount,omitempty"`
}
