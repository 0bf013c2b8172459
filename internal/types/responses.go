package types

// AdmitOrderRequest is the ingress payload for order admission.
type AdmitOrderRequest struct {
	Order     *Order         `json:"order"`
	Signature []byte         `json:"signature"`
	Metadata  *OrderMetadata `json:"metadata,omitempty"`
}

// AdmitOrderResponse is returned once an order has been accepted. The caller
// polls the status endpoint to learn the eventual outcome.
type AdmitOrderResponse struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}
