package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"shop-checkout/internal/config"

	"github.com/sirupsen/logrus"
)

// PayPalGateway talks to the PayPal Orders v2 REST API.
type PayPalGateway struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *http.Client
	log        logrus.FieldLogger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPalGateway(cfg config.PayPalConfig, httpClient *http.Client, log logrus.FieldLogger) *PayPalGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PayPalGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		httpClient: httpClient,
		log:        log.WithField("component", "paypal"),
	}
}

type ppMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type ppItem struct {
	Name       string  `json:"name"`
	SKU        string  `json:"sku,omitempty"`
	UnitAmount ppMoney `json:"unit_amount"`
	Quantity   string  `json:"quantity"`
}

type ppPurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	Amount      struct {
		ppMoney
		Breakdown struct {
			ItemTotal ppMoney `json:"item_total"`
		} `json:"breakdown"`
	} `json:"amount"`
	Items []ppItem `json:"items"`
}

type ppApplicationContext struct {
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
	ShippingPreference string `json:"shipping_preference"`
}

type ppCreateOrder struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []ppPurchaseUnit     `json:"purchase_units"`
	ApplicationContext ppApplicationContext `json:"application_context"`
}

type ppLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type ppOrder struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Links  []ppLink `json:"links"`
	Payer  *struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type ppError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (g *PayPalGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := ppCreateOrder{
		Intent: IntentCapture,
		ApplicationContext: ppApplicationContext{
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.CancelURL,
			ShippingPreference: req.ShippingPreference,
		},
	}
	unit := ppPurchaseUnit{ReferenceID: req.ReferenceID}
	unit.Amount.ppMoney = ppMoney{CurrencyCode: req.Currency, Value: req.Amount}
	unit.Amount.Breakdown.ItemTotal = ppMoney{CurrencyCode: req.Currency, Value: req.ItemTotal}
	for _, it := range req.Items {
		unit.Items = append(unit.Items, ppItem{
			Name:       it.Name,
			SKU:        it.SKU,
			UnitAmount: ppMoney{CurrencyCode: req.Currency, Value: it.UnitAmount},
			Quantity:   strconv.Itoa(it.Quantity),
		})
	}
	body.PurchaseUnits = []ppPurchaseUnit{unit}

	var order ppOrder
	// the reference id doubles as PayPal's idempotency key
	if err := g.do(ctx, "create intent", http.MethodPost, "/v2/checkout/orders", req.ReferenceID, body, &order); err != nil {
		return nil, err
	}

	approval := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approval = link.Href
			break
		}
	}
	if approval == "" {
		return nil, &GatewayError{Op: "create intent", Err: ErrNoApprovalLink}
	}

	g.log.WithFields(logrus.Fields{
		"reference_id": req.ReferenceID,
		"payment_id":   order.ID,
	}).Info("PayPal order created")

	return &Intent{ID: order.ID, Status: IntentStatus(order.Status), ApprovalURL: approval}, nil
}

func (g *PayPalGateway) Capture(ctx context.Context, remoteID string) (*Capture, error) {
	var order ppOrder
	path := "/v2/checkout/orders/" + url.PathEscape(remoteID) + "/capture"
	if err := g.do(ctx, "capture", http.MethodPost, path, "", struct{}{}, &order); err != nil {
		return nil, err
	}

	capture := &Capture{ID: order.ID, Status: IntentStatus(order.Status)}
	if order.Payer != nil {
		capture.PayerID = order.Payer.PayerID
	}
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		capture.CaptureID = order.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return capture, nil
}

func (g *PayPalGateway) Lookup(ctx context.Context, remoteID string) (*Intent, error) {
	var order ppOrder
	path := "/v2/checkout/orders/" + url.PathEscape(remoteID)
	if err := g.do(ctx, "lookup", http.MethodGet, path, "", nil, &order); err != nil {
		return nil, err
	}

	intent := &Intent{ID: order.ID, Status: IntentStatus(order.Status)}
	if order.Payer != nil {
		intent.PayerID = order.Payer.PayerID
	}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			intent.ApprovalURL = link.Href
		}
	}
	return intent, nil
}

func (g *PayPalGateway) do(ctx context.Context, op, method, path, requestID string, in, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.log.WithFields(logrus.Fields{"op": op, "error": err.Error()}).Error("PayPal request failed")
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.dropToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return g.statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (g *PayPalGateway) statusError(op string, resp *http.Response) error {
	var pe ppError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pe)

	issue := pe.Name
	if len(pe.Details) > 0 {
		issue = pe.Details[0].Issue
	}

	gerr := &GatewayError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Issue:      issue,
		Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
	switch {
	case issue == "ORDER_ALREADY_CAPTURED":
		gerr.Err = ErrAlreadyCaptured
	case issue == "ORDER_NOT_APPROVED":
		gerr.Err = ErrNotApproved
	case resp.StatusCode == http.StatusNotFound || issue == "RESOURCE_NOT_FOUND":
		gerr.Err = ErrIntentNotFound
	case pe.Message != "":
		gerr.Err = errors.New(pe.Message)
	}

	g.log.WithFields(logrus.Fields{
		"op":          op,
		"status_code": resp.StatusCode,
		"issue":       issue,
	}).Warn("PayPal returned an error")
	return gerr
}

func transportError(op string, err error) error {
	// an expired deadline is final for this call
	transient := !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
	return &GatewayError{Op: op, Transient: transient, Err: err}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &GatewayError{Op: "oauth token", Err: err}
	}
	req.SetBasicAuth(g.clientID, g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", transportError("oauth token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{
			Op:         "oauth token",
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500,
		}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &GatewayError{Op: "oauth token", Err: err}
	}

	g.token = tok.AccessToken
	// refresh a minute early
	g.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

func (g *PayPalGateway) dropToken() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
}
