package domain

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	// PaymentCaptured is money taken for an order that was never confirmed.
	PaymentCaptured PaymentStatus = "captured"
)
