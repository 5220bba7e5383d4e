package store

import (
	"context"
	"database/sql"

	"github.com/ccmart/ccmart-go/internal/models"
	"github.com/ccmart/ccmart-go/internal/notify"
)

// OrderService composes order persistence with its post-commit side effects:
// best-effort notification dispatch and catalog cache invalidation. Side
// effects run only after the transaction has committed, so their failure can
// never roll an order back.
type OrderService struct {
	db         *sql.DB
	dispatcher *notify.Dispatcher
	catalog    *Catalog
}

func NewOrderService(db *sql.DB, dispatcher *notify.Dispatcher, catalog *Catalog) *OrderService {
	return &OrderService{db: db, dispatcher: dispatcher, catalog: catalog}
}

func (s *OrderService) PlaceOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	order, err := CreateOrder(ctx, s.db, req)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, order, "", order.Status)
	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, oldStatus, err := CancelOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, order, oldStatus, order.Status)
	return order, nil
}

func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, target string, agentID *int64) (*models.Order, error) {
	order, oldStatus, err := TransitionOrder(ctx, s.db, orderID, target, agentID)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, order, oldStatus, order.Status)
	return order, nil
}

func (s *OrderService) OverrideStatus(ctx context.Context, orderID int64, target, actor, reason string) (*models.Order, error) {
	order, oldStatus, err := OverrideOrderStatus(ctx, s.db, orderID, target, actor, reason)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, order, oldStatus, order.Status)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return GetOrder(ctx, s.db, orderID)
}

func (s *OrderService) ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersByUser(ctx, s.db, userID, cursor, limit)
}

func (s *OrderService) ListByStatus(ctx context.Context, status string) ([]models.Order, error) {
	return ListOrdersByStatus(ctx, s.db, status)
}

func (s *OrderService) afterStatusChange(ctx context.Context, order *models.Order, oldStatus, newStatus string) {
	if s.dispatcher != nil {
		s.dispatcher.OrderStatusChanged(ctx, order, oldStatus, newStatus)
	}

	// Stock moved on placement and cancellation; cached product reads are
	// stale for those items.
	if s.catalog != nil && (newStatus == models.OrderStatusPending || newStatus == models.OrderStatusCancelled) {
		ids := make([]int64, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		s.catalog.InvalidateProducts(ctx, ids...)
	}
}
