package order

import "slices"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusProcessing: {StatusShipped, StatusDelivered, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(statusTransitions[s], next)
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// ReturnStatus tracks a return request on a delivered order. The zero value
// means no return was requested.
type ReturnStatus string

const (
	ReturnNone            ReturnStatus = ""
	ReturnRequested       ReturnStatus = "return_requested"
	ReturnApproved        ReturnStatus = "return_approved"
	ReturnRejected        ReturnStatus = "return_rejected"
	ReturnItemReturned    ReturnStatus = "item_returned"
	ReturnRefundProcessed ReturnStatus = "refund_processed"
)

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnNone:         {ReturnRequested},
	ReturnRequested:    {ReturnApproved, ReturnRejected},
	ReturnApproved:     {ReturnItemReturned},
	ReturnItemReturned: {ReturnRefundProcessed},
}

// CanTransitionTo reports whether next is reachable from r. A rejected return
// may only be requested again when allowAfterRejection is set.
func (r ReturnStatus) CanTransitionTo(next ReturnStatus, allowAfterRejection bool) bool {
	if r == ReturnRejected && next == ReturnRequested {
		return allowAfterRejection
	}
	return slices.Contains(returnTransitions[r], next)
}

func (r ReturnStatus) String() string {
	if r == ReturnNone {
		return "none"
	}
	return string(r)
}

// PaymentStatus is the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)
