package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccmart/ccmart-go/internal/database"
	"github.com/ccmart/ccmart-go/internal/lifecycle"
	"github.com/ccmart/ccmart-go/internal/models"
	"github.com/ccmart/ccmart-go/internal/stock"
)

type CreateOrderRequest struct {
	UserID int64
	Items  []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d%03d", time.Now().UnixNano(), rand.Intn(900)+100)
}

// CreateOrder places an order: it reserves stock for every item, captures each
// product's price as the item's unit price, and persists the order at status
// pending, all in one serializable transaction. The first reservation failure
// aborts the transaction, which rolls back every earlier reservation — a
// multi-item order either holds all of its stock or none of it.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, database.ErrEmptyOrder
	}
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return nil, fmt.Errorf("%w: missing product id", database.ErrInvalidOrderItem)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %d",
				database.ErrInvalidOrderItem, item.ProductID)
		}
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		items := make([]models.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			res, err := stock.Reserve(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}

			items = append(items, models.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: res.Price,
				Subtotal:  res.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
			})
		}

		totalAmount := models.OrderTotal(items)
		orderNumber := generateOrderNumber()

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, payment_status, total_amount, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id`,
			req.UserID, orderNumber, models.OrderStatusPending, models.PaymentStatusPending,
			totalAmount).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i := range items {
			items[i].OrderID = orderID
			err = tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())
				 RETURNING id, created_at`,
				orderID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice,
				items[i].Subtotal).Scan(&items[i].ID, &items[i].CreatedAt)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		order, err = scanOrderRow(tx.QueryRowContext(ctx, selectOrderQuery+" WHERE id = $1", orderID))
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}
		order.Items = items

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder releases every item's stock back to the pool and moves the
// order to cancelled with its payment refunded. Cancellation is rejected once
// the order is in delivery or terminal. Released stock for a product that has
// since been deleted is logged and dropped; it never fails the cancellation.
func CancelOrder(ctx context.Context, db *sql.DB, orderID int64) (*models.Order, string, error) {
	var (
		order     *models.Order
		oldStatus string
	)

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		oldStatus = current.Status

		if !lifecycle.Cancellable(current.Status) {
			return fmt.Errorf("%w: order %d is %s", database.ErrOrderNotCancellable,
				orderID, current.Status)
		}

		items, err := orderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := stock.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order, err = scanOrderRow(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, payment_status = $2, updated_at = NOW()
			 WHERE id = $3
			 RETURNING `+orderColumns,
			models.OrderStatusCancelled, models.PaymentStatusRefunded, orderID))
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		order.Items = items

		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return order, oldStatus, nil
}

// TransitionOrder applies one gated lifecycle step. The order row is locked
// for the whole read-check-write sequence, so two concurrent transitions for
// the same order serialize and the loser is rejected against the winner's
// status. A cancellation target is routed through CancelOrder so the stock
// release always happens.
func TransitionOrder(ctx context.Context, db *sql.DB, orderID int64, target string, agentID *int64) (*models.Order, string, error) {
	if !lifecycle.Known(target) {
		return nil, "", fmt.Errorf("unknown status %q: %w", target, lifecycle.ErrInvalidTransition)
	}
	if target == models.OrderStatusCancelled {
		return CancelOrder(ctx, db, orderID)
	}

	var (
		order     *models.Order
		oldStatus string
	)

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		oldStatus = current.Status

		if err := lifecycle.CanTransition(current.Status, target); err != nil {
			return err
		}

		query := `UPDATE orders SET status = $1, updated_at = NOW()`
		args := []any{target}

		switch target {
		case models.OrderStatusApproved:
			query += `, approved_at = NOW()`

		case models.OrderStatusAssigned:
			if agentID == nil {
				return database.ErrAgentRequired
			}
			agent, err := agentByID(ctx, tx, *agentID)
			if err != nil {
				return err
			}
			if !agent.Eligible() {
				return fmt.Errorf("%w: agent %d", database.ErrAgentUnavailable, agent.ID)
			}
			query += fmt.Sprintf(`, delivery_agent_id = $%d, assigned_at = NOW()`, len(args)+1)
			args = append(args, agent.ID)
		}

		query += fmt.Sprintf(` WHERE id = $%d RETURNING `, len(args)+1) + orderColumns
		args = append(args, orderID)

		order, err = scanOrderRow(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		order.Items, err = orderItems(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	return order, oldStatus, nil
}

// OverrideOrderStatus is the audited escape hatch around the gated lifecycle:
// it sets any known status and records who did it and why in
// order_status_audit. Moves into or out of cancelled are refused here because
// they change the stock ledger; those must go through CancelOrder.
func OverrideOrderStatus(ctx context.Context, db *sql.DB, orderID int64, target, actor, reason string) (*models.Order, string, error) {
	if !lifecycle.Known(target) {
		return nil, "", fmt.Errorf("unknown status %q: %w", target, lifecycle.ErrInvalidTransition)
	}

	var (
		order     *models.Order
		oldStatus string
	)

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		oldStatus = current.Status

		if target == models.OrderStatusCancelled || current.Status == models.OrderStatusCancelled {
			return fmt.Errorf("cancellation changes stock and must use the cancel operation: %w",
				lifecycle.ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_status_audit (order_id, from_status, to_status, actor, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())`,
			orderID, current.Status, target, actor, reason)
		if err != nil {
			return fmt.Errorf("write status audit: %w", err)
		}

		order, err = scanOrderRow(tx.QueryRowContext(ctx,
			`UPDATE orders SET status = $1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+orderColumns,
			target, orderID))
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		order.Items, err = orderItems(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	return order, oldStatus, nil
}

const orderColumns = `id, user_id, order_number, status, payment_status, total_amount,
	delivery_agent_id, approved_at, assigned_at, created_at, updated_at`

const selectOrderQuery = `SELECT ` + orderColumns + ` FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&order.TotalAmount,
		&order.DeliveryAgentID,
		&order.ApprovedAt,
		&order.AssignedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// lockOrder reads the order row FOR UPDATE so that concurrent transitions for
// the same order cannot both pass their precondition checks.
func lockOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Order, error) {
	order, err := scanOrderRow(tx.QueryRowContext(ctx,
		selectOrderQuery+` WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order %d: %w", orderID, err)
	}
	return order, nil
}

func orderItems(ctx context.Context, q queryer, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrderRow(db.QueryRowContext(ctx, selectOrderQuery+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = orderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func ListOrdersByUser(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := selectOrderQuery + `
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func ListOrdersByStatus(ctx context.Context, db *sql.DB, status string) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx,
		selectOrderQuery+` WHERE status = $1 ORDER BY created_at DESC, id DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}
