// Package memstore keeps orders, products and carts in process memory. It
// implements the repo interfaces and database.Transactor, and backs the unit
// tests and the simulator when no database is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"shop-checkout/internal/domain"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	products map[string]*domain.Product
	carts    map[string]*domain.Cart

	// failure hooks used by tests
	FailOrderUpdate error
	FailCartDelete  error

	now func() time.Time
}

func New() *Store {
	return &Store{
		orders:   make(map[uuid.UUID]*domain.Order),
		products: make(map[string]*domain.Product),
		carts:    make(map[string]*domain.Cart),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type txKey struct{}

// WithTx serializes units of work and restores the previous state when fn
// fails, which gives the same all-or-nothing outcome as a database rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// writeLock keeps a write made outside a unit of work from landing while one
// is open, so a rollback cannot erase it. Inside WithTx it is a no-op.
func (s *Store) writeLock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

type snapshot struct {
	orders   map[uuid.UUID]*domain.Order
	products map[string]*domain.Product
	carts    map[string]*domain.Cart
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		orders:   make(map[uuid.UUID]*domain.Order, len(s.orders)),
		products: make(map[string]*domain.Product, len(s.products)),
		carts:    make(map[string]*domain.Cart, len(s.carts)),
	}
	for id, o := range s.orders {
		snap.orders[id] = o.Clone()
	}
	for id, p := range s.products {
		cp := *p
		snap.products[id] = &cp
	}
	for id, c := range s.carts {
		snap.carts[id] = cloneCart(c)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snap.orders
	s.products = snap.products
	s.carts = snap.carts
}

// Orders, Products and Carts expose the store through the repo interfaces.
func (s *Store) Orders() *OrderStore     { return &OrderStore{s: s} }
func (s *Store) Products() *ProductStore { return &ProductStore{s: s} }
func (s *Store) Carts() *CartStore       { return &CartStore{s: s} }

// OrderCount is a test helper.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type OrderStore struct{ s *Store }

func (r *OrderStore) Create(ctx context.Context, order *domain.Order) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now().UTC()
	order.ID = uuid.New()
	if order.OrderDate.IsZero() {
		order.OrderDate = now
	}
	order.OrderUpdateDate = now
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderStore) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *OrderStore) Update(ctx context.Context, order *domain.Order) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailOrderUpdate != nil {
		return domain.Persistence("update order", r.s.FailOrderUpdate)
	}
	if _, ok := r.s.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	if order.OrderUpdateDate.IsZero() {
		order.OrderUpdateDate = r.s.now().UTC()
	}
	r.s.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.s.orders, id)
	return nil
}

func (r *OrderStore) ListByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orders := make([]*domain.Order, 0)
	for _, o := range r.s.orders {
		if o.UserID == userID {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
	return orders, nil
}

func (r *OrderStore) FindStale(_ context.Context, olderThan time.Duration, limit int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cutoff := r.s.now().Add(-olderThan)
	orders := make([]*domain.Order, 0)
	for _, o := range r.s.orders {
		if o.IsPending() && o.OrderUpdateDate.Before(cutoff) {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderUpdateDate.Before(orders[j].OrderUpdateDate)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Touch backdates an order's update time. Test helper.
func (r *OrderStore) Touch(id uuid.UUID, at time.Time) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.orders[id]; ok {
		o.OrderUpdateDate = at
	}
}

type ProductStore struct{ s *Store }

func (r *ProductStore) Get(_ context.Context, id string) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProductStore) GetStock(ctx context.Context, id string) (int, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.TotalStock, nil
}

func (r *ProductStore) Reserve(ctx context.Context, id string, quantity int) error {
	if quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}

	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.TotalStock < quantity {
		return &domain.InsufficientStockError{
			ProductID: p.ID,
			Title:     p.Title,
			Requested: quantity,
			Available: p.TotalStock,
		}
	}
	p.TotalStock -= quantity
	p.UpdatedAt = r.s.now().UTC()
	return nil
}

func (r *ProductStore) Save(ctx context.Context, p *domain.Product) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	r.s.products[p.ID] = &cp
	return nil
}

// Remove drops a product from the catalogue. Test helper.
func (r *ProductStore) Remove(id string) {
	defer r.s.writeLock(context.Background())()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.products, id)
}

type CartStore struct{ s *Store }

func (r *CartStore) Get(_ context.Context, id string) (*domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.carts[id]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (r *CartStore) Save(ctx context.Context, cart *domain.Cart) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	r.s.carts[cart.ID] = cloneCart(cart)
	return nil
}

func (r *CartStore) Delete(ctx context.Context, id string) error {
	defer r.s.writeLock(ctx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailCartDelete != nil {
		return domain.Persistence("delete cart", r.s.FailCartDelete)
	}
	delete(r.s.carts, id)
	return nil
}

func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}
