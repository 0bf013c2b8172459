package orchestrator

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/ksred/intent-settlement/pkg/response"
)

// GinHandlers contains HTTP handlers for order admission and status
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// AdmitOrderHandler handles POST requests admitting a signed order
// An optional Idempotency-Key header makes resubmission safe: the original
// order id is returned instead of starting a second pipeline
func (h *GinHandlers) AdmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AdmitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if req.Order == nil || len(req.Signature) == 0 {
			response.BadRequest(c, "order and signature are required")
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")

		orderID, err := h.service.AdmitIdempotent(req.Order, req.Signature, req.Metadata, idempotencyKey)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				response.BadRequest(c, err.Error())
				return
			}
			response.UnprocessableEntity(c, err.Error())
			return
		}

		response.Success(c, types.AdmitOrderResponse{
			OrderID: orderID,
			Message: "order admitted for settlement",
		})
	}
}

// GetOrderStatusHandler handles GET requests for the full stored record
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		record, err := h.service.GetOrder(orderID)
		if err != nil || record == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, record)
	}
}

// StatsHandler handles GET requests for the orchestrator's scratch counters
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.Stats())
	}
}
