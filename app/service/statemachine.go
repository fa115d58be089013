package service

import (
	"github.com/xKodda/realcars-payments/app/entity"
	"github.com/xKodda/realcars-payments/app/gateway"
	"github.com/xKodda/realcars-payments/app/types"
)

// transition is the planned outcome of applying an authoritative
// gateway status to an order. A zero settle flag means no state change
// and no side effects.
type transition struct {
	toStatus     types.OrderStatus
	settle       bool
	issueTickets bool
	notifyBuyer  bool
	eventType    string
}

// planTransition is the single transition function for both the
// webhook path and the settlement sweep. Terminal orders never move:
// a duplicate or late notice lands on the no-op branch regardless of
// what status it carries.
func planTransition(order *entity.Order, status gateway.Status) transition {
	current := types.OrderStatus(order.Status)
	if current.Terminal() {
		return transition{toStatus: current}
	}

	switch status {
	case gateway.StatusVerified:
		return transition{
			toStatus:     types.OrderStatusPaid,
			settle:       true,
			issueTickets: true,
			notifyBuyer:  true,
			eventType:    "order_paid",
		}
	case gateway.StatusExpired:
		return transition{
			toStatus:    types.OrderStatusExpired,
			settle:      true,
			notifyBuyer: true,
			eventType:   "order_expired",
		}
	case gateway.StatusCancelled:
		return transition{
			toStatus:    types.OrderStatusCancelled,
			settle:      true,
			notifyBuyer: true,
			eventType:   "order_cancelled",
		}
	default:
		return transition{toStatus: current}
	}
}
