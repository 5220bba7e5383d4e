// Package stock is the single authority over product stock quantities.
// Reservation and release both run inside the caller's transaction, so a
// failed order build rolls back every reservation it made.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ccmart/ccmart-go/internal/database"
)

// OutOfStockError carries the quantities behind a failed reservation. It
// unwraps to database.ErrInsufficientStock.
type OutOfStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *OutOfStockError) Unwrap() error {
	return database.ErrInsufficientStock
}

// Reservation is the product snapshot taken while the row lock was held. The
// price is what order items capture as their unit price.
type Reservation struct {
	ProductID int64
	Name      string
	Price     decimal.Decimal
	Remaining int
}

// Reserve locks the product row, checks availability and decrements stock by
// quantity, all under the lock. A concurrent holder of the same row surfaces
// as database.ErrLockTimeout, which the transaction retry loop treats as
// transient.
func Reserve(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*Reservation, error) {
	var (
		res       Reservation
		available int
	)

	err := tx.QueryRowContext(ctx,
		`SELECT id, name, price, stock_quantity
		 FROM products
		 WHERE id = $1
		 FOR UPDATE NOWAIT`,
		productID).Scan(&res.ProductID, &res.Name, &res.Price, &available)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product %d: %w", productID, err)
	}

	if available < quantity {
		return nil, &OutOfStockError{
			ProductID: productID,
			Available: available,
			Requested: quantity,
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// The row is locked, so this only happens if the availability check
		// above raced a schema-level change. Treat it as out of stock.
		return nil, &OutOfStockError{
			ProductID: productID,
			Available: available,
			Requested: quantity,
		}
	}

	res.Remaining = available - quantity
	return &res, nil
}

// Release returns quantity units to the product's available pool. A product
// that no longer exists is logged and skipped: releasing stock must never
// fail the cancellation that triggered it.
func Release(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Printf("stock: dropping release of %d units for missing product %d", quantity, productID)
	}

	return nil
}
