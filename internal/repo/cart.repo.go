package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"shop-checkout/internal/database"
	"shop-checkout/internal/domain"
)

type CartRepo interface {
	Get(ctx context.Context, id string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	// Delete is a no-op for a cart that no longer exists.
	Delete(ctx context.Context, id string) error
}

type cartRepo struct {
	db *sql.DB
}

func NewCartRepo(db *sql.DB) CartRepo {
	return &cartRepo{db: db}
}

func (r *cartRepo) Get(ctx context.Context, id string) (*domain.Cart, error) {
	var (
		cart  domain.Cart
		items []byte
	)
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, user_id, items, created_at, updated_at FROM carts WHERE id = $1`, id,
	).Scan(&cart.ID, &cart.UserID, &items, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, domain.Persistence("get cart", err)
	}
	if err := json.Unmarshal(items, &cart.Items); err != nil {
		return nil, domain.Persistence("decode cart items", err)
	}
	return &cart, nil
}

func (r *cartRepo) Save(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	items, err := json.Marshal(cart.Items)
	if err != nil {
		return err
	}
	_, err = database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO carts (id, user_id, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id, items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`,
		cart.ID, cart.UserID, items, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return domain.Persistence("save cart", err)
	}
	return nil
}

func (r *cartRepo) Delete(ctx context.Context, id string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id); err != nil {
		return domain.Persistence("delete cart", err)
	}
	return nil
}
