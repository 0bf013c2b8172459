package tracker

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/intent-settlement/pkg/response"
)

// GinHandlers contains HTTP handlers for competition observability endpoints
type GinHandlers struct {
	tracker *Tracker
}

func NewGinHandlers(tracker *Tracker) *GinHandlers {
	return &GinHandlers{
		tracker: tracker,
	}
}

// GetCompetitionHandler handles GET requests for a single order's competition
// URL parameter: order_id
func (h *GinHandlers) GetCompetitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		comp := h.tracker.GetCompetition(orderID)
		if comp == nil {
			response.NotFound(c, "No competition for order")
			return
		}
		response.Success(c, comp)
	}
}

// GetAllCompetitionsHandler handles GET requests for the full competition map
func (h *GinHandlers) GetAllCompetitionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.tracker.GetAllCompetitions())
	}
}

// IsOrderFilledHandler handles GET requests that ask the chain, not the
// in-memory state, whether an order has been filled
// URL parameter: order_id
func (h *GinHandlers) IsOrderFilledHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		status, err := h.tracker.IsOrderFilled(c.Request.Context(), orderID)
		response.Handle(c, status, err)
	}
}

// PastFillEventsHandler handles GET requests replaying historical fill events
// Query parameters: from_block, to_block (optional, zero means unbounded)
func (h *GinHandlers) PastFillEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fromBlock, err := parseBlockParam(c.Query("from_block"))
		if err != nil {
			response.BadRequest(c, "invalid from_block")
			return
		}
		toBlock, err := parseBlockParam(c.Query("to_block"))
		if err != nil {
			response.BadRequest(c, "invalid to_block")
			return
		}

		events, err := h.tracker.GetPastFillEvents(fromBlock, toBlock)
		response.Handle(c, events, err)
	}
}

func parseBlockParam(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
