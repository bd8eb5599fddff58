package handlers

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"shop-checkout/internal/domain"
	"shop-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type cartItemRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Title     string          `json:"title" binding:"required"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
}

type addressRequest struct {
	AddressID string `json:"addressId"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Pincode   string `json:"pincode"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
}

type createOrderRequest struct {
	UserID        string            `json:"userId" binding:"required"`
	CartID        string            `json:"cartId" binding:"required"`
	CartItems     []cartItemRequest `json:"cartItems" binding:"required,min=1,dive"`
	AddressInfo   addressRequest    `json:"addressInfo"`
	TotalAmount   decimal.Decimal   `json:"totalAmount"`
	PaymentMethod string            `json:"paymentMethod" binding:"required"`
	OrderDate     time.Time         `json:"orderDate"`
}

func (r createOrderRequest) toService() service.InitiateRequest {
	items := make([]domain.LineItem, len(r.CartItems))
	for i, it := range r.CartItems {
		items[i] = domain.LineItem{
			ProductID: it.ProductID,
			Title:     it.Title,
			Image:     it.Image,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}
	return service.InitiateRequest{
		UserID:        r.UserID,
		CartID:        r.CartID,
		CartItems:     items,
		AddressInfo:   domain.Address(r.AddressInfo),
		TotalAmount:   r.TotalAmount,
		PaymentMethod: r.PaymentMethod,
		OrderDate:     r.OrderDate,
	}
}

// captureRequest accepts the provider's redirect parameters. PayPal sends
// the payment id back as "token".
type captureRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId"`
	Token     string `json:"token"`
	PayerID   string `json:"payerId"`
}

// CreateOrder handles POST /api/shop/order/create
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	res, err := h.checkout.Initiate(c.Request.Context(), req.toService())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"approvalURL": res.ApprovalURL,
		"orderId":     res.OrderID,
	})
}

// CapturePayment handles POST /api/shop/order/capture
func (h *Handlers) CapturePayment(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = req.Token
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		h.respondError(c, &domain.ValidationError{Field: "orderId", Reason: "must be a valid UUID"})
		return
	}

	order, err := h.checkout.Capture(c.Request.Context(), service.CaptureRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		PayerID:   req.PayerID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order confirmed",
		"data":    order,
	})
}

var tagNamesOnce sync.Once

// useJSONFieldNames makes validation errors name fields as clients send them.
func useJSONFieldNames() {
	tagNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}
