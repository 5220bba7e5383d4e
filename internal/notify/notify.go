// Package notify turns order status transitions into user-facing
// notifications. Dispatch is best-effort: a sink failure is logged and
// dropped, never surfaced to the operation that triggered it.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/ccmart/ccmart-go/internal/models"
)

// Sink records a rendered notification somewhere: the notifications table,
// a message queue, or a test double.
type Sink interface {
	Record(ctx context.Context, n *models.Notification) error
}

// TypeForStatus maps an order status to its notification type tag. Unknown
// statuses fall back to the order-placed tag.
func TypeForStatus(status string) string {
	switch status {
	case models.OrderStatusApproved:
		return models.NotificationOrderApproved
	case models.OrderStatusAssigned:
		return models.NotificationOrderDispatched
	case models.OrderStatusInDelivery:
		return models.NotificationOrderInTransit
	case models.OrderStatusDelivered:
		return models.NotificationOrderDelivered
	case models.OrderStatusCancelled:
		return models.NotificationOrderCancelled
	default:
		return models.NotificationOrderPlaced
	}
}

// MessageForStatus renders the canned user-facing message for a status
// change. Unknown statuses fall back to the order-placed message.
func MessageForStatus(order *models.Order, status string) string {
	ref := "#" + order.OrderNumber

	switch status {
	case models.OrderStatusApproved:
		return fmt.Sprintf("🎉 Great news! Your order %s has been approved and is being prepared.", ref)
	case models.OrderStatusAssigned:
		return fmt.Sprintf("📦 Your order %s has been assigned to a delivery agent.", ref)
	case models.OrderStatusInDelivery:
		return fmt.Sprintf("🚚 Your order %s is on the way! Track your delivery.", ref)
	case models.OrderStatusDelivered:
		return fmt.Sprintf("✅ Your order %s has been delivered successfully. Enjoy your purchase!", ref)
	case models.OrderStatusCancelled:
		return fmt.Sprintf("❌ Your order %s has been cancelled.", ref)
	default:
		return fmt.Sprintf("📋 Your order %s has been placed successfully and is pending approval.", ref)
	}
}

// Dispatcher fans a status change out to every configured sink.
type Dispatcher struct {
	sinks []Sink
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// OrderStatusChanged renders and records a notification for the new status.
// It never returns an error: each failing sink is logged and skipped so that
// the order mutation that already committed stays committed.
func (d *Dispatcher) OrderStatusChanged(ctx context.Context, order *models.Order, oldStatus, newStatus string) {
	if order == nil {
		return
	}

	n := &models.Notification{
		UserID:  order.UserID,
		OrderID: order.ID,
		Type:    TypeForStatus(newStatus),
		Message: MessageForStatus(order, newStatus),
		Status:  models.NotificationUnread,
	}

	for _, sink := range d.sinks {
		if err := sink.Record(ctx, n); err != nil {
			log.Printf("notify: dropping %s notification for order %d: %v", n.Type, order.ID, err)
		}
	}
}
