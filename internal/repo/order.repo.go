package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-checkout/internal/database"
	"shop-checkout/internal/domain"

	"github.com/google/uuid"
)

type OrderRepo interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, user_id, cart_id, cart_items, address_info, order_status, payment_method,
	payment_status, payment_id, payer_id, total_amount, order_date, updated_at`

// Create assigns the identity and timestamps before inserting.
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	order.ID = uuid.New()
	if order.OrderDate.IsZero() {
		order.OrderDate = now
	}
	order.OrderUpdateDate = now

	items, address, err := marshalOrderDocs(order)
	if err != nil {
		return err
	}

	_, err = database.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.UserID, order.CartID, items, address, order.OrderStatus, order.PaymentMethod,
		order.PaymentStatus, order.PaymentID, order.PayerID, order.TotalAmount, order.OrderDate, order.OrderUpdateDate,
	)
	if database.IsUniqueViolation(err) {
		return domain.Persistence("create order", fmt.Errorf("order %s already exists: %w", order.ID, err))
	}
	if err != nil {
		return domain.Persistence("create order", err)
	}
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if database.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, query, id)
	return scanOrder(row)
}

func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	items, address, err := marshalOrderDocs(order)
	if err != nil {
		return err
	}
	if order.OrderUpdateDate.IsZero() {
		order.OrderUpdateDate = time.Now().UTC()
	}

	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET cart_items = $2, address_info = $3, order_status = $4, payment_status = $5,
		    payment_id = $6, payer_id = $7, total_amount = $8, updated_at = $9
		WHERE id = $1`,
		order.ID, items, address, order.OrderStatus, order.PaymentStatus,
		order.PaymentID, order.PayerID, order.TotalAmount, order.OrderUpdateDate,
	)
	if constraint, ok := database.IsCheckViolation(err); ok && constraint == "orders_paid_is_confirmed" {
		return &domain.ValidationError{Field: "paymentStatus", Reason: "a paid order must be confirmed with payment and payer ids"}
	}
	if err != nil {
		return domain.Persistence("update order", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

func (r *orderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return domain.Persistence("delete order", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

// ListByUser returns the user's orders, newest first. No orders is an empty
// slice, not an error.
func (r *orderRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY order_date DESC`, userID)
	if err != nil {
		return nil, domain.Persistence("list orders", err)
	}
	return scanOrders(rows)
}

// FindStale returns pending orders not touched for olderThan, oldest first.
func (r *orderRepo) FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE order_status = $1 AND payment_status = $2 AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		domain.OrderPending, domain.PaymentPending, time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, domain.Persistence("find stale orders", err)
	}
	return scanOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		items, address []byte
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.CartID,
		&items,
		&address,
		&order.OrderStatus,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.PaymentID,
		&order.PayerID,
		&order.TotalAmount,
		&order.OrderDate,
		&order.OrderUpdateDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, domain.Persistence("scan order", err)
	}
	if err := json.Unmarshal(items, &order.CartItems); err != nil {
		return nil, domain.Persistence("decode order items", err)
	}
	if err := json.Unmarshal(address, &order.AddressInfo); err != nil {
		return nil, domain.Persistence("decode order address", err)
	}
	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate orders", err)
	}
	return orders, nil
}

func marshalOrderDocs(order *domain.Order) ([]byte, []byte, error) {
	items, err := json.Marshal(order.CartItems)
	if err != nil {
		return nil, nil, err
	}
	address, err := json.Marshal(order.AddressInfo)
	if err != nil {
		return nil, nil, err
	}
	return items, address, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
