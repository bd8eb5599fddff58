package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"shop-checkout/internal/database"
	"shop-checkout/internal/domain"
)

// ProductRepo is the inventory ledger.
type ProductRepo interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	GetStock(ctx context.Context, id string) (int, error)
	// Reserve checks and decrements stock as one step. It fails with
	// domain.ErrProductNotFound or *domain.InsufficientStockError and never
	// lets the counter go negative.
	Reserve(ctx context.Context, id string, quantity int) error
	Save(ctx context.Context, product *domain.Product) error
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) Get(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, title, price, total_stock, created_at, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &p.Price, &p.TotalStock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, domain.Persistence("get product", err)
	}
	return &p, nil
}

func (r *productRepo) GetStock(ctx context.Context, id string) (int, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.TotalStock, nil
}

func (r *productRepo) Reserve(ctx context.Context, id string, quantity int) error {
	if quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}

	// the WHERE guard makes check-and-decrement a single statement
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE products
		SET total_stock = total_stock - $2, updated_at = now()
		WHERE id = $1 AND total_stock >= $2`,
		id, quantity,
	)
	if err != nil {
		return domain.Persistence("reserve stock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("reserve stock", err)
	}
	if n == 1 {
		return nil
	}

	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{
		ProductID: p.ID,
		Title:     p.Title,
		Requested: quantity,
		Available: p.TotalStock,
	}
}

// Save upserts a product.
func (r *productRepo) Save(ctx context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO products (id, title, price, total_stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price,
		    total_stock = EXCLUDED.total_stock, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Title, p.Price, p.TotalStock, p.CreatedAt, p.UpdatedAt,
	)
	if _, ok := database.IsCheckViolation(err); ok {
		return &domain.ValidationError{Field: "totalStock", Reason: "must not be negative"}
	}
	if err != nil {
		return domain.Persistence("save product", err)
	}
	return nil
}
