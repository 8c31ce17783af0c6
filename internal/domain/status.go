package domain

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:    {OrderProcessing: true, OrderCancelled: true},
	OrderProcessing: {OrderShipped: true, OrderCancelled: true},
	OrderShipped:    {OrderDelivered: true},
	OrderDelivered:  {},
	OrderCancelled:  {},
}

// forward edges only; cancellation is not part of fulfillment progress
var orderForward = map[OrderStatus]OrderStatus{
	OrderPending:    OrderProcessing,
	OrderProcessing: OrderShipped,
	OrderShipped:    OrderDelivered,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderNext[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderNext[s]) == 0
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return orderNext[from][to]
}

// NextForward returns the single fulfillment step after from, if any.
func NextForward(from OrderStatus) (OrderStatus, bool) {
	to, ok := orderForward[from]
	return to, ok
}

type ShopStatus string

const (
	ShopPending  ShopStatus = "PENDING"
	ShopApproved ShopStatus = "APPROVED"
	ShopRejected ShopStatus = "REJECTED"
	ShopDeleted  ShopStatus = "DELETED"
)

var shopNext = map[ShopStatus]map[ShopStatus]bool{
	ShopPending:  {ShopApproved: true, ShopRejected: true, ShopDeleted: true},
	ShopApproved: {ShopRejected: true, ShopDeleted: true},
	ShopRejected: {ShopPending: true, ShopDeleted: true},
	ShopDeleted:  {},
}

func (s ShopStatus) Valid() bool {
	_, ok := shopNext[s]
	return ok
}

func CanTransitionShop(from, to ShopStatus) bool {
	return shopNext[from][to]
}
