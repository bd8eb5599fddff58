package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"shop-checkout/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"success": false, "message": messageFor(status, err)}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = []fieldError{{Field: verr.Field, Message: verr.Reason}}
	}

	fields := logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.log.WithFields(fields).Error("Request failed")
	} else {
		h.log.WithFields(fields).Info("Request rejected")
	}

	c.JSON(status, body)
}

// respondBindError reports request decoding failures field by field.
func (h *Handlers) respondBindError(c *gin.Context, err error) {
	body := gin.H{"success": false, "message": "invalid request body"}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError{Field: jsonPath(fe), Message: describe(fe)})
		}
		body["errors"] = details
	}

	h.log.WithFields(logrus.Fields{"path": c.FullPath(), "error": err.Error()}).Info("Invalid request body")
	c.JSON(http.StatusBadRequest, body)
}

func statusFor(err error) int {
	switch {
	// wraps the stock error that caused it
	case errors.Is(err, domain.ErrOrderOnHold):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCartNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderNotPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayInitiation),
		errors.Is(err, domain.ErrPaymentCapture):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor keeps remote and storage details out of the response.
func messageFor(status int, err error) string {
	switch status {
	case http.StatusBadGateway:
		if errors.Is(err, domain.ErrGatewayInitiation) {
			return domain.ErrGatewayInitiation.Error()
		}
		return domain.ErrPaymentCapture.Error()
	case http.StatusServiceUnavailable:
		return domain.ErrPersistence.Error()
	case http.StatusInternalServerError:
		return "internal server error"
	default:
		return err.Error()
	}
}

// jsonPath turns "createOrderRequest.cartItems[0].quantity" into
// "cartItems[0].quantity".
func jsonPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "uuid":
		return "must be a valid id"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
