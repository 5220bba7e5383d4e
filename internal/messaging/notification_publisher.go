package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccmart/ccmart-go/internal/models"
)

// NotificationEvent is the wire shape published for each order notification.
type NotificationEvent struct {
	UserID    int64     `json:"user_id"`
	OrderID   int64     `json:"order_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationPublisher pushes order notifications onto a queue for external
// consumers (push delivery, email workers). It implements notify.Sink; the
// dispatcher makes it best-effort.
type NotificationPublisher struct {
	mq    *RabbitMQ
	queue string
}

func NewNotificationPublisher(mq *RabbitMQ, queue string) (*NotificationPublisher, error) {
	if err := mq.DeclareQueue(queue); err != nil {
		return nil, err
	}
	return &NotificationPublisher{mq: mq, queue: queue}, nil
}

func (p *NotificationPublisher) Record(_ context.Context, n *models.Notification) error {
	event := NotificationEvent{
		UserID:    n.UserID,
		OrderID:   n.OrderID,
		Type:      n.Type,
		Message:   n.Message,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	return p.mq.Publish(p.queue, data)
}
