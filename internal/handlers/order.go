package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ccmart/ccmart-go/internal/database"
	"github.com/ccmart/ccmart-go/internal/lifecycle"
	"github.com/ccmart/ccmart-go/internal/stock"
	"github.com/ccmart/ccmart-go/internal/store"
)

type OrderHandler struct {
	orders *store.OrderService
}

func NewOrderHandler(orders *store.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	UserID int64             `json:"user_id" binding:"required"`
	Items  []createOrderItem `json:"items" binding:"required"`
}

type createOrderItem struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]store.OrderItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), store.CreateOrderRequest{
		UserID: req.UserID,
		Items:  items,
	})
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListByUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := h.orders.ListByUser(c.Request.Context(), userID, c.Query("cursor"), limit)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *OrderHandler) ListByStatus(c *gin.Context) {
	status := c.Param("status")
	if !lifecycle.Known(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	orders, err := h.orders.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type transitionRequest struct {
	Status  string `json:"status" binding:"required"`
	AgentID *int64 `json:"agent_id"`
}

func (h *OrderHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.TransitionStatus(c.Request.Context(), id, req.Status, req.AgentID)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type overrideRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// Override is the audited admin escape hatch around the gated lifecycle.
func (h *OrderHandler) Override(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.OverrideStatus(c.Request.Context(), id, req.Status, req.Actor, req.Reason)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func respondOrderError(c *gin.Context, err error) {
	var oos *stock.OutOfStockError
	if errors.As(err, &oos) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      oos.Error(),
			"product_id": oos.ProductID,
			"available":  oos.Available,
			"requested":  oos.Requested,
		})
		return
	}

	switch {
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, database.ErrInvalidOrderItem),
		errors.Is(err, database.ErrAgentRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, database.ErrOrderNotCancellable),
		errors.Is(err, database.ErrAgentUnavailable),
		errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
