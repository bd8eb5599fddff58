package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrGatewayInitiation = errors.New("error creating payment")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrCartNotFound      = errors.New("cart not found")
	ErrInsufficientStock = errors.New("not enough stock")
	ErrPaymentCapture    = errors.New("payment capture failed")
	ErrPersistence       = errors.New("storage unavailable")
	ErrOrderNotPending   = errors.New("order is not in pending state")
	ErrOrderOnHold       = errors.New("payment captured but order could not be fulfilled")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientStockError names the product that could not cover the order.
type InsufficientStockError struct {
	ProductID string
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Title
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("not enough stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps a storage error. Errors that already belong to the
// taxonomy are returned untouched.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrOrderNotFound, ErrProductNotFound, ErrCartNotFound, ErrInsufficientStock,
		ErrPersistence, ErrValidation, ErrOrderNotPending, ErrOrderOnHold,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
