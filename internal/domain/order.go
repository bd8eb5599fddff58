package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
	// OrderOnHold marks an order whose payment was collected but whose items
	// could not be reserved. It waits for manual fulfilment or a refund.
	OrderOnHold OrderStatus = "on_hold"
)

const PaymentMethodPayPal = "paypal"

// LineItem is a snapshot of a cart item taken when the order is placed.
type LineItem struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type Address struct {
	AddressID string `json:"addressId,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Pincode   string `json:"pincode"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"userId"`
	CartID          string          `json:"cartId"`
	CartItems       []LineItem      `json:"cartItems"`
	AddressInfo     Address         `json:"addressInfo"`
	OrderStatus     OrderStatus     `json:"orderStatus"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	PaymentID       string          `json:"paymentId"`
	PayerID         string          `json:"payerId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	OrderDate       time.Time       `json:"orderDate"`
	OrderUpdateDate time.Time       `json:"orderUpdateDate"`
}

// NewPendingOrder builds an unsaved order in pending/pending state. The items
// slice is copied so later changes to the caller's cart cannot reach the order.
func NewPendingOrder(userID, cartID string, items []LineItem, address Address, total decimal.Decimal, method string, orderDate time.Time) *Order {
	return &Order{
		UserID:        userID,
		CartID:        cartID,
		CartItems:     CopyItems(items),
		AddressInfo:   address,
		OrderStatus:   OrderPending,
		PaymentMethod: method,
		PaymentStatus: PaymentPending,
		TotalAmount:   total,
		OrderDate:     orderDate,
	}
}

func CopyItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.CartItems = CopyItems(o.CartItems)
	return &c
}

func (o *Order) IsPending() bool {
	return o.OrderStatus == OrderPending && o.PaymentStatus == PaymentPending
}

func (o *Order) IsConfirmed() bool {
	return o.OrderStatus == OrderConfirmed && o.PaymentStatus == PaymentPaid
}

// Confirm moves a pending order to confirmed/paid. Both remote references are
// required, otherwise a paid order could not be traced back to the gateway.
func (o *Order) Confirm(paymentID, payerID string, now time.Time) error {
	if !o.IsPending() {
		return ErrOrderNotPending
	}
	if paymentID == "" {
		return &ValidationError{Field: "paymentId", Reason: "is required to confirm an order"}
	}
	if payerID == "" {
		return &ValidationError{Field: "payerId", Reason: "is required to confirm an order"}
	}
	o.OrderStatus = OrderConfirmed
	o.PaymentStatus = PaymentPaid
	o.PaymentID = paymentID
	o.PayerID = payerID
	o.OrderUpdateDate = now
	return nil
}

// IsSettled reports whether checkout is done with the order. Only settled
// orders are safe to cache.
func (o *Order) IsSettled() bool {
	return o.IsConfirmed() || o.IsOnHold() || o.OrderStatus == OrderFailed
}

func (o *Order) IsOnHold() bool {
	return o.OrderStatus == OrderOnHold && o.PaymentStatus == PaymentCaptured
}

// Hold parks a pending order whose remote payment completed but which cannot
// be fulfilled. The payment references are kept for the refund.
func (o *Order) Hold(paymentID, payerID string, now time.Time) error {
	if !o.IsPending() {
		return ErrOrderNotPending
	}
	if paymentID == "" {
		return &ValidationError{Field: "paymentId", Reason: "is required to hold an order"}
	}
	o.OrderStatus = OrderOnHold
	o.PaymentStatus = PaymentCaptured
	o.PaymentID = paymentID
	o.PayerID = payerID
	o.OrderUpdateDate = now
	return nil
}

// Fail moves a pending order to the failed terminal state.
func (o *Order) Fail(now time.Time) error {
	if !o.IsPending() {
		return ErrOrderNotPending
	}
	o.OrderStatus = OrderFailed
	o.PaymentStatus = PaymentFailed
	o.OrderUpdateDate = now
	return nil
}

// ItemsTotal sums price*quantity over the line items.
func ItemsTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
