package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/database"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo"
	"shop-checkout/internal/repo/memstore"
	"shop-checkout/internal/service"
	"shop-checkout/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type stores struct {
	orders   repo.OrderRepo
	products repo.ProductRepo
	carts    repo.CartRepo
	tx       database.Transactor
}

func main() {
	n := flag.Int("orders", 20, "number of checkouts to run")
	delay := flag.Duration("timeout-delay", 3*time.Second, "how long a phantom charge hangs before timing out")
	usePostgres := flag.Bool("postgres", false, "run against the configured Postgres instead of memory")
	flag.Parse()

	cfg := config.Load()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	ctx := context.Background()

	st := memoryStores()
	if *usePostgres {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logger.WithField("error", err.Error()).Fatal("Failed to connect to database")
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logger.WithField("error", err.Error()).Fatal("Failed to run migrations")
		}
		st = postgresStores(db)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gateway := payment.NewSandboxGateway(logger, payment.WithChaos(*delay))

	checkoutCfg := cfg.Checkout
	// the capture must give up before the phantom charge answers
	checkoutCfg.GatewayTimeout = *delay / 2
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Orders:   st.orders,
		Products: st.products,
		Carts:    st.carts,
		Tx:       st.tx,
		Gateway:  gateway,
		Metrics:  m,
		Log:      logger,
	}, checkoutCfg)

	product := &domain.Product{
		ID:         fmt.Sprintf("sim-%d", time.Now().UnixNano()),
		Title:      "Phantom Hoodie",
		Price:      decimal.RequireFromString("25.00"),
		TotalStock: *n,
	}
	if err := st.products.Save(ctx, product); err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to seed product")
	}

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", *n)
	for i := 0; i < *n; i++ {
		cartID := fmt.Sprintf("%s-cart-%d", product.ID, i)
		if err := st.carts.Save(ctx, &domain.Cart{
			ID:     cartID,
			UserID: "sim-user",
			Items:  []domain.CartItem{{ProductID: product.ID, Quantity: 1}},
		}); err != nil {
			fmt.Printf("[%d] cart seed failed: %v\n", i+1, err)
			continue
		}

		res, err := checkout.Initiate(ctx, service.InitiateRequest{
			UserID: "sim-user",
			CartID: cartID,
			CartItems: []domain.LineItem{{
				ProductID: product.ID,
				Title:     product.Title,
				Price:     product.Price,
				Quantity:  1,
			}},
			TotalAmount:   product.Price,
			PaymentMethod: domain.PaymentMethodPayPal,
			OrderDate:     time.Now(),
		})
		if err != nil {
			fmt.Printf("[%d] initiate failed: %v\n", i+1, err)
			continue
		}

		order, err := st.orders.Get(ctx, res.OrderID)
		if err != nil {
			fmt.Printf("[%d] order vanished: %v\n", i+1, err)
			continue
		}
		if err := gateway.Approve(order.PaymentID, "SIM-PAYER"); err != nil {
			fmt.Printf("[%d] approve failed: %v\n", i+1, err)
			continue
		}

		fmt.Printf("[%d] Capturing order %s ... ", i+1, order.ID)
		if _, err := checkout.Capture(ctx, service.CaptureRequest{OrderID: order.ID, PaymentID: order.PaymentID}); err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			fmt.Println("SUCCESS")
		}

		// pending here with a completed remote payment is a phantom charge
		fresh, _ := st.orders.Get(ctx, order.ID)
		fmt.Printf("    -> DB status: %s / gateway status: %s\n", fresh.OrderStatus, gateway.Status(order.PaymentID))
	}

	// let any hung captures finish on the gateway side
	time.Sleep(*delay)

	fmt.Println("--- RECONCILING ---")
	rw := worker.NewReconciliationWorker(st.orders, checkout, gateway, config.ReconciliationConfig{
		StaleAfter:   0,
		AbandonAfter: 0,
		BatchSize:    *n,
	}, m, logger)
	sum, err := rw.RunOnce(ctx)
	if err != nil {
		fmt.Printf("reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("finalized=%d expired=%d waiting=%d skipped=%d on_hold=%d failed=%d\n",
		sum.Finalized, sum.Expired, sum.Waiting, sum.Skipped, sum.OnHold, sum.Failed)
	fmt.Printf("captures ok=%.0f gateway_error=%.0f, stock denied=%.0f\n",
		testutil.ToFloat64(m.Captured.WithLabelValues("ok")),
		testutil.ToFloat64(m.Captured.WithLabelValues("gateway_error")),
		testutil.ToFloat64(m.StockDenied))
}

func memoryStores() stores {
	s := memstore.New()
	return stores{orders: s.Orders(), products: s.Products(), carts: s.Carts(), tx: s}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		orders:   repo.NewOrderRepo(db),
		products: repo.NewProductRepo(db),
		carts:    repo.NewCartRepo(db),
		tx:       database.NewTransactor(db),
	}
}
