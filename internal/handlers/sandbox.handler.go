package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"shop-checkout/internal/domain"
	"shop-checkout/internal/infrastructure/payment"

	"github.com/gin-gonic/gin"
)

const sandboxPayerID = "SANDBOX-PAYER"

// SandboxApprover is the buyer-facing half of the in-process gateway.
type SandboxApprover interface {
	Approve(remoteID, payerID string) error
}

type sandboxApproval struct {
	approver  SandboxApprover
	returnURL string
}

// WithSandbox enables the stand-in approval page. After approving, the buyer
// is sent to returnURL with the same token and PayerID parameters PayPal
// appends.
func (h *Handlers) WithSandbox(approver SandboxApprover, returnURL string) *Handlers {
	h.sandbox = &sandboxApproval{approver: approver, returnURL: returnURL}
	return h
}

func (h *Handlers) SandboxEnabled() bool {
	return h.sandbox != nil
}

// SandboxCheckout handles GET /sandbox/checkoutnow
func (h *Handlers) SandboxCheckout(c *gin.Context) {
	if h.sandbox == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "sandbox gateway is not enabled"})
		return
	}

	token := c.Query("token")
	if token == "" {
		h.respondError(c, &domain.ValidationError{Field: "token", Reason: "is required"})
		return
	}
	payerID := c.DefaultQuery("payerId", sandboxPayerID)

	if err := h.sandbox.approver.Approve(token, payerID); err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			h.respondError(c, &domain.ValidationError{Field: "token", Reason: "is not a known payment"})
			return
		}
		h.respondError(c, &domain.ValidationError{Field: "token", Reason: err.Error()})
		return
	}
	h.log.WithField("payment_id", token).Info("Sandbox payment approved")

	if h.sandbox.returnURL == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "payerId": payerID})
		return
	}
	target, err := url.Parse(h.sandbox.returnURL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	q := target.Query()
	q.Set("token", token)
	q.Set("PayerID", payerID)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}
