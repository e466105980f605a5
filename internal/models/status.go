package models

// TaskStatus is the lifecycle state of a maintenance task. Vehicles carry the
// same vocabulary as their derived status.
type TaskStatus string

const (
	TaskScheduled  TaskStatus = "scheduled"
	TaskInProgress TaskStatus = "in progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCanceled   TaskStatus = "canceled"
)

// ValidTaskTransitions maps each task status to its valid next statuses.
// Completed and canceled are terminal.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskScheduled:  {TaskInProgress, TaskCompleted, TaskCanceled},
	TaskInProgress: {TaskCompleted, TaskCanceled},
}

// IsValidTaskStatus reports whether s belongs to the task status vocabulary.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskScheduled, TaskInProgress, TaskCompleted, TaskCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCanceled
}

// CanTransitionTo checks whether a status transition is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, v := range ValidTaskTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the settlement state of a task or order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// IsTerminal reports whether the payment status is paid, failed or refunded.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentRefunded
}

// Rank orders payment statuses so that a late gateway callback can never
// lower a subject's settlement state: refunded > paid > failed > pending.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentFailed:
		return 1
	case PaymentPaid:
		return 2
	case PaymentRefunded:
		return 3
	default:
		return 0
	}
}

// OrderStatus is the fulfilment state of a vendor parts order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCanceled   OrderStatus = "canceled"
)

// ValidOrderTransitions maps each order status to its valid next statuses.
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCanceled},
	OrderProcessing: {OrderShipped, OrderCanceled},
	OrderShipped:    {OrderDelivered},
}

// IsValidOrderStatus reports whether s belongs to the order status vocabulary.
func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether an order status transition is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, v := range ValidOrderTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}
