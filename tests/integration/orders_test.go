package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ccmart/ccmart-go/internal/database"
	"github.com/ccmart/ccmart-go/internal/models"
	"github.com/ccmart/ccmart-go/internal/stock"
	"github.com/ccmart/ccmart-go/internal/store"
)

func TestPlaceOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, notifications := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "shopper@example.com", "Shopper", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	apples, err := store.CreateProduct(ctx, db, "GRC-APL-001", "Apples", "1kg bag", decimal.NewFromInt(100), 50)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	milk, err := store.CreateProduct(ctx, db, "GRC-MLK-001", "Milk", "1L", decimal.NewFromInt(200), 30)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	order, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: apples.ID, Quantity: 5},
			{ProductID: milk.ID, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if order.OrderNumber == "" {
		t.Error("Order number should be generated")
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", order.Status)
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("Expected payment status pending, got %s", order.PaymentStatus)
	}

	expectedTotal := decimal.NewFromInt(100).Mul(decimal.NewFromInt(5)).
		Add(decimal.NewFromInt(200).Mul(decimal.NewFromInt(3)))
	if !order.TotalAmount.Equal(expectedTotal) {
		t.Errorf("Expected total %s, got %s", expectedTotal, order.TotalAmount)
	}

	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}
	if !order.Items[0].UnitPrice.Equal(apples.Price) {
		t.Errorf("Expected unit price snapshot %s, got %s", apples.Price, order.Items[0].UnitPrice)
	}

	applesAfter, err := store.GetProduct(ctx, db, apples.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if applesAfter.StockQuantity != 45 {
		t.Errorf("Expected apples stock 45, got %d", applesAfter.StockQuantity)
	}

	milkAfter, err := store.GetProduct(ctx, db, milk.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if milkAfter.StockQuantity != 27 {
		t.Errorf("Expected milk stock 27, got %d", milkAfter.StockQuantity)
	}

	recorded, err := notifications.ListByUser(ctx, user.ID, false)
	if err != nil {
		t.Fatalf("List notifications: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(recorded))
	}
	if recorded[0].Type != models.NotificationOrderPlaced {
		t.Errorf("Expected ORDER_PLACED notification, got %s", recorded[0].Type)
	}
	if recorded[0].OrderID != order.ID {
		t.Errorf("Notification should reference order %d, got %d", order.ID, recorded[0].OrderID)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, _ := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "empty@example.com", "Empty", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	_, err = orders.PlaceOrder(ctx, store.CreateOrderRequest{UserID: user.ID})
	if !errors.Is(err, database.ErrEmptyOrder) {
		t.Errorf("Expected empty order error, got: %v", err)
	}

	_, err = orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items:  []store.OrderItemRequest{{ProductID: 0, Quantity: 1}},
	})
	if !errors.Is(err, database.ErrInvalidOrderItem) {
		t.Errorf("Expected invalid item error, got: %v", err)
	}

	_, err = orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items:  []store.OrderItemRequest{{ProductID: 1, Quantity: 0}},
	})
	if !errors.Is(err, database.ErrInvalidOrderItem) {
		t.Errorf("Expected invalid item error, got: %v", err)
	}

	_, err = orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items:  []store.OrderItemRequest{{ProductID: 999999, Quantity: 1}},
	})
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found error, got: %v", err)
	}
}

func TestPlaceOrderPartialFailureRollsBackReservations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, notifications := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "partial@example.com", "Partial", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	inStock, err := store.CreateProduct(ctx, db, "GRC-RIC-001", "Rice", "5kg", decimal.NewFromInt(500), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	scarce, err := store.CreateProduct(ctx, db, "GRC-SAF-001", "Saffron", "1g", decimal.NewFromInt(900), 3)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	_, err = orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: inStock.ID, Quantity: 2},
			{ProductID: scarce.ID, Quantity: 1000},
		},
	})

	var oos *stock.OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatalf("Expected out of stock error, got: %v", err)
	}
	if oos.ProductID != scarce.ID {
		t.Errorf("Expected failure on product %d, got %d", scarce.ID, oos.ProductID)
	}
	if oos.Available != 3 || oos.Requested != 1000 {
		t.Errorf("Expected available 3 / requested 1000, got %d / %d", oos.Available, oos.Requested)
	}

	// The reservation for the first item must have been rolled back.
	inStockAfter, err := store.GetProduct(ctx, db, inStock.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if inStockAfter.StockQuantity != 10 {
		t.Errorf("Expected rice stock unchanged at 10, got %d", inStockAfter.StockQuantity)
	}

	recorded, err := notifications.ListByUser(ctx, user.ID, false)
	if err != nil {
		t.Fatalf("List notifications: %v", err)
	}
	if len(recorded) != 0 {
		t.Errorf("Failed placement must not notify, got %d notifications", len(recorded))
	}
}

func TestPlaceCancelRoundTripRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, notifications := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "roundtrip@example.com", "Round Trip", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	product, err := store.CreateProduct(ctx, db, "GRC-EGG-001", "Eggs", "dozen", decimal.NewFromInt(120), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	order, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	during, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if during.StockQuantity != 7 {
		t.Errorf("Expected stock 7 while order open, got %d", during.StockQuantity)
	}

	cancelled, err := orders.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel order: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", cancelled.Status)
	}
	if cancelled.PaymentStatus != models.PaymentStatusRefunded {
		t.Errorf("Expected payment refunded, got %s", cancelled.PaymentStatus)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.StockQuantity != 10 {
		t.Errorf("Expected stock restored to 10, got %d", after.StockQuantity)
	}

	recorded, err := notifications.ListByUser(ctx, user.ID, false)
	if err != nil {
		t.Fatalf("List notifications: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(recorded))
	}
	if recorded[0].Type != models.NotificationOrderCancelled {
		t.Errorf("Expected latest notification ORDER_CANCELLED, got %s", recorded[0].Type)
	}
}

func TestCancelOrderRejections(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, _ := newOrderService(db)

	_, err := orders.CancelOrder(ctx, 424242)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}

	user, err := store.CreateUser(ctx, db, "twice@example.com", "Twice", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	product, err := store.CreateProduct(ctx, db, "GRC-TEA-001", "Tea", "box", decimal.NewFromInt(250), 8)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	order, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
		UserID: user.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if _, err := orders.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("First cancel: %v", err)
	}

	// A second cancel must not release stock again.
	_, err = orders.CancelOrder(ctx, order.ID)
	if !errors.Is(err, database.ErrOrderNotCancellable) {
		t.Errorf("Expected not cancellable, got: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.StockQuantity != 8 {
		t.Errorf("Double cancel must not inflate stock: expected 8, got %d", after.StockQuantity)
	}
}

func TestConcurrentReservationNeverOversells(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, _ := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "race@example.com", "Race", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	product, err := store.CreateProduct(ctx, db, "GRC-OIL-001", "Olive Oil", "1L", decimal.NewFromInt(800), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
				UserID: user.ID,
				Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 6}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successCount := 0
	outOfStockCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
			outOfStockCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || outOfStockCount != 1 {
		t.Errorf("Expected exactly one success and one out-of-stock, got %d / %d",
			successCount, outOfStockCount)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.StockQuantity != 4 {
		t.Errorf("Expected final stock 4, got %d", after.StockQuantity)
	}
}

func TestConcurrentOrdersDrainStockExactly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, _ := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "drain@example.com", "Drain", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	product, err := store.CreateProduct(ctx, db, "GRC-FLR-001", "Flour", "1kg", decimal.NewFromInt(90), 20)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
				UserID: user.ID,
				Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}

	expectedStock := 20 - successCount*2
	if after.StockQuantity != expectedStock {
		t.Errorf("Expected final stock %d after %d successes, got %d",
			expectedStock, successCount, after.StockQuantity)
	}
	if after.StockQuantity < 0 {
		t.Errorf("Stock must never go negative, got %d", after.StockQuantity)
	}
}

func TestListOrders(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	orders, _ := newOrderService(db)

	user, err := store.CreateUser(ctx, db, "lister@example.com", "Lister", "customer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	product, err := store.CreateProduct(ctx, db, "GRC-JAM-001", "Jam", "jar", decimal.NewFromInt(300), 100)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	for i := 0; i < 15; i++ {
		_, err := orders.PlaceOrder(ctx, store.CreateOrderRequest{
			UserID: user.ID,
			Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("Place order %d: %v", i, err)
		}
	}

	page1, err := orders.ListByUser(ctx, user.ID, "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}
	if !page1.HasMore || page1.NextCursor == "" {
		t.Error("Page 1 should have more results and a cursor")
	}

	page2, err := orders.ListByUser(ctx, user.ID, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}

	pending, err := orders.ListByStatus(ctx, models.OrderStatusPending)
	if err != nil {
		t.Fatalf("List by status: %v", err)
	}
	if len(pending) != 15 {
		t.Errorf("Expected 15 pending orders, got %d", len(pending))
	}
}
