package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/repo/memstore"
	"shop-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	ApprovalURL string          `json:"approvalURL"`
	OrderID     string          `json:"orderId"`
	Data        json.RawMessage `json:"data"`
	Errors      []fieldError    `json:"errors"`
}

type testAPI struct {
	router *gin.Engine
	store  *memstore.Store
	gw     *payment.SandboxGateway
	h      *Handlers
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	store := memstore.New()
	gw := payment.NewSandboxGateway(log)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Orders:   store.Orders(),
		Products: store.Products(),
		Carts:    store.Carts(),
		Tx:       store,
		Gateway:  gw,
		Log:      log,
	}, config.CheckoutConfig{Currency: "USD", GatewayTimeout: time.Second})
	orders := service.NewOrderService(store.Orders(), nil, log)

	h := NewHandlers(checkout, orders, map[string]HealthCheck{
		"database": func(context.Context) map[string]string { return map[string]string{"status": "up"} },
	}, log)

	r := gin.New()
	r.GET("/health", h.Health)
	api := r.Group("/api/shop/order")
	api.POST("/create", h.CreateOrder)
	api.POST("/capture", h.CapturePayment)
	api.GET("/list/:userId", h.ListOrders)
	api.GET("/details/:id", h.GetOrder)
	r.GET("/sandbox/checkoutnow", h.SandboxCheckout)

	ctx := context.Background()
	require.NoError(t, store.Products().Save(ctx, &domain.Product{ID: "p1", Title: "Shirt", TotalStock: 5}))
	require.NoError(t, store.Products().Save(ctx, &domain.Product{ID: "p2", Title: "Socks", TotalStock: 1}))
	return &testAPI{router: r, store: store, gw: gw, h: h}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func createBody(items ...map[string]any) map[string]any {
	total := decimal.Zero
	for _, it := range items {
		price := decimal.RequireFromString(it["price"].(string))
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it["quantity"].(int)))))
	}
	return map[string]any{
		"userId":        "u1",
		"cartId":        "cart-1",
		"cartItems":     items,
		"addressInfo":   map[string]string{"address": "1 Main St", "city": "Pune", "pincode": "411001", "phone": "555"},
		"totalAmount":   total.StringFixed(2),
		"paymentMethod": "paypal",
		"orderDate":     time.Now().UTC().Format(time.RFC3339),
	}
}

func item(id, title, price string, qty int) map[string]any {
	return map[string]any{"productId": id, "title": title, "price": price, "quantity": qty}
}

func TestCreateAndCapture(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/create", createBody(item("p1", "Shirt", "10.00", 2)))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ApprovalURL)
	orderID := uuid.MustParse(resp.OrderID)

	order, err := api.store.Orders().Get(context.Background(), orderID)
	require.NoError(t, err)
	require.NoError(t, api.gw.Approve(order.PaymentID, "PAYER-1"))

	code, resp = api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{
		"orderId": orderID.String(),
		"token":   order.PaymentID,
		"payerId": "PAYER-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	var confirmed domain.Order
	require.NoError(t, json.Unmarshal(resp.Data, &confirmed))
	assert.Equal(t, domain.OrderConfirmed, confirmed.OrderStatus)
	assert.Equal(t, domain.PaymentPaid, confirmed.PaymentStatus)
	assert.Equal(t, "20.00", confirmed.TotalAmount.StringFixed(2))

	code, resp = api.do(t, http.MethodGet, "/api/shop/order/details/"+orderID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, resp = api.do(t, http.MethodGet, "/api/shop/order/list/u1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []domain.Order
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)
}

func TestCreate_BindErrorsAreReportedPerField(t *testing.T) {
	api := newTestAPI(t)

	body := createBody(item("p1", "Shirt", "10.00", 0))
	delete(body, "userId")

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/create", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)

	fields := map[string]string{}
	for _, fe := range resp.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "is required", fields["userId"])
	assert.Contains(t, fields, "cartItems[0].quantity")
	assert.Equal(t, 0, api.store.OrderCount())
}

func TestCreate_TotalMismatchIsRejected(t *testing.T) {
	api := newTestAPI(t)
	body := createBody(item("p1", "Shirt", "10.00", 1))
	body["totalAmount"] = "12.00"

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/create", body)
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "totalAmount", resp.Errors[0].Field)
	assert.Equal(t, 0, api.store.OrderCount())
}

func TestCreate_GatewayFailureIs502(t *testing.T) {
	api := newTestAPI(t)
	api.gw.SetCreateError(errors.New("paypal down"))

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/create", createBody(item("p1", "Shirt", "10.00", 1)))
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, domain.ErrGatewayInitiation.Error(), resp.Message)
	assert.Equal(t, 0, api.store.OrderCount())
}

func TestCapture_InsufficientStockIs409(t *testing.T) {
	api := newTestAPI(t)

	_, resp := api.do(t, http.MethodPost, "/api/shop/order/create", createBody(item("p2", "Socks", "5.00", 2)))
	orderID := uuid.MustParse(resp.OrderID)
	order, _ := api.store.Orders().Get(context.Background(), orderID)
	require.NoError(t, api.gw.Approve(order.PaymentID, "PAYER-1"))

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{
		"orderId":   orderID.String(),
		"paymentId": order.PaymentID,
		"payerId":   "PAYER-1",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Message, "Socks")
}

func TestCapture_BadOrderID(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{"orderId": "nope", "paymentId": "X"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "orderId", resp.Errors[0].Field)

	code, _ = api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{"orderId": uuid.NewString(), "paymentId": "X"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCapture_MalformedOrderIDIsValidationError(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{
		"orderId":   uuid.NewString()[:30],
		"paymentId": "X",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "orderId", resp.Errors[0].Field)
}

func TestSandboxCheckout_ApprovesAndReturnsToShop(t *testing.T) {
	api := newTestAPI(t)
	api.h.WithSandbox(api.gw, "http://shop.test/paypal-return?from=sandbox")

	_, resp := api.do(t, http.MethodPost, "/api/shop/order/create", createBody(item("p1", "Shirt", "10.00", 1)))
	approval, err := url.Parse(resp.ApprovalURL)
	require.NoError(t, err)
	token := approval.Query().Get("token")
	require.NotEmpty(t, token)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sandbox/checkoutnow?token="+token+"&payerId=PAYER-9", nil))
	require.Equal(t, http.StatusFound, w.Code)

	back, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "shop.test", back.Host)
	assert.Equal(t, token, back.Query().Get("token"))
	assert.Equal(t, "PAYER-9", back.Query().Get("PayerID"))
	assert.Equal(t, "sandbox", back.Query().Get("from"))

	code, resp := api.do(t, http.MethodPost, "/api/shop/order/capture", map[string]string{
		"orderId": resp.OrderID,
		"token":   token,
		"payerId": back.Query().Get("PayerID"),
	})
	require.Equal(t, http.StatusOK, code)
	var confirmed domain.Order
	require.NoError(t, json.Unmarshal(resp.Data, &confirmed))
	assert.Equal(t, domain.OrderConfirmed, confirmed.OrderStatus)
	assert.Equal(t, "PAYER-9", confirmed.PayerID)
}

func TestSandboxCheckout_Errors(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodGet, "/sandbox/checkoutnow?token=SBX-1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	api.h.WithSandbox(api.gw, "")
	code, resp := api.do(t, http.MethodGet, "/sandbox/checkoutnow", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "token", resp.Errors[0].Field)

	code, _ = api.do(t, http.MethodGet, "/sandbox/checkoutnow?token=SBX-UNKNOWN", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListOrders_EmptyIsSuccess(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(t, http.MethodGet, "/api/shop/order/list/nobody", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestGetOrder_Errors(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodGet, "/api/shop/order/details/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := api.do(t, http.MethodGet, "/api/shop/order/details/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.ErrOrderNotFound.Error(), resp.Message)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "x", Reason: "bad"}, http.StatusBadRequest},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.ErrProductNotFound, http.StatusNotFound},
		{&domain.InsufficientStockError{ProductID: "p"}, http.StatusConflict},
		{domain.ErrOrderNotPending, http.StatusConflict},
		{fmt.Errorf("%w: %w", domain.ErrOrderOnHold, domain.ErrProductNotFound), http.StatusConflict},
		{fmt.Errorf("%w: boom", domain.ErrGatewayInitiation), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", domain.ErrPaymentCapture), http.StatusBadGateway},
		{domain.Persistence("op", errors.New("conn refused")), http.StatusServiceUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)

	log, _ := test.NewNullLogger()
	h := NewHandlers(nil, nil, map[string]HealthCheck{
		"redis": func(context.Context) map[string]string { return map[string]string{"status": "down"} },
	}, log)
	w = httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	h.Health(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
