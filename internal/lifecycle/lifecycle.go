// Package lifecycle defines the order status state machine. Every status
// change going through the regular API is validated against the transition
// table here; the only way around it is the audited admin override.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ccmart/ccmart-go/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError reports a rejected transition with both endpoints.
// It unwraps to ErrInvalidTransition for errors.Is checks.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// transitions maps a status to the statuses reachable from it. Terminal
// statuses have no outgoing edges.
var transitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusApproved, models.OrderStatusCancelled},
	models.OrderStatusApproved:   {models.OrderStatusAssigned, models.OrderStatusCancelled},
	models.OrderStatusAssigned:   {models.OrderStatusInDelivery, models.OrderStatusCancelled},
	models.OrderStatusInDelivery: {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {},
	models.OrderStatusCancelled:  {},
}

// Known reports whether s is a recognized order status.
func Known(s string) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted from s.
func IsTerminal(s string) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Cancellable reports whether an order in status s may still be cancelled.
func Cancellable(s string) bool {
	for _, to := range transitions[s] {
		if to == models.OrderStatusCancelled {
			return true
		}
	}
	return false
}

// CanTransition validates the move from one status to another. A request for
// the current status is a rejection, not a no-op.
func CanTransition(from, to string) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}
