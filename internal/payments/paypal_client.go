package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// PayPalSandboxURL is the REST endpoint for sandbox credentials.
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	// PayPalLiveURL is the REST endpoint for live credentials.
	PayPalLiveURL = "https://api-m.paypal.com"

	defaultPayPalTimeout = 20 * time.Second
	maxResponseBytes     = 1 << 20
)

// PayPalLogger defines the logging contract for PayPal client operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

// PayPalConfig configures the PayPalClient.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// ReturnURL and CancelURL are where the buyer lands after approving or abandoning checkout.
	ReturnURL  string
	CancelURL  string
	HTTPClient *http.Client
	Tokens     *TokenCache
	RequestID  func() string
	Clock      func() time.Time
	Logger     PayPalLogger
}

// PayPalClient implements Gateway against the PayPal REST API (Orders v2, Payments v2).
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	returnURL    string
	cancelURL    string
	http         *http.Client
	tokens       *TokenCache
	requestID    func() string
	clock        func() time.Time
	logger       PayPalLogger
}

// NewPayPalClient constructs a PayPal gateway client.
func NewPayPalClient(cfg PayPalConfig) (*PayPalClient, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = PayPalSandboxURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("paypal: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPayPalTimeout}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewTokenCache()
	}
	requestID := cfg.RequestID
	if requestID == nil {
		requestID = uuid.NewString
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PayPalClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: secret,
		returnURL:    strings.TrimSpace(cfg.ReturnURL),
		cancelURL:    strings.TrimSpace(cfg.CancelURL),
		http:         httpClient,
		tokens:       tokens,
		requestID:    requestID,
		clock:        clock,
		logger:       logger,
	}, nil
}

// CreateOrder registers a CAPTURE intent order and returns the buyer approval link.
func (c *PayPalClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreatedOrder, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return CreatedOrder{}, errors.New("paypal: order id is required")
	}
	currency := currencyOrDefault(req.Currency)

	items := make([]paypalItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, paypalItem{
			Name:       truncate(item.Name, 127),
			UnitAmount: newMoney(currency, item.UnitAmount),
			Quantity:   fmt.Sprintf("%d", item.Quantity),
			Category:   "PHYSICAL_GOODS",
		})
	}

	payload := paypalCreateOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnitRequest{{
			CustomID:    req.OrderID,
			Description: "Order " + req.OrderNumber,
			Amount: paypalAmount{
				paypalMoney: newMoney(currency, req.Total),
				Breakdown: &paypalBreakdown{
					ItemTotal: newMoney(currency, req.Subtotal),
					TaxTotal:  newMoney(currency, req.Tax),
					Shipping:  newMoney(currency, req.Shipping),
				},
			},
			Items: items,
			Shipping: &paypalShipping{Address: paypalAddress{
				AddressLine1: req.ShippingAddress.Line1,
				AdminArea2:   req.ShippingAddress.City,
				AdminArea1:   req.ShippingAddress.State,
				PostalCode:   req.ShippingAddress.PostalCode,
				CountryCode:  strings.ToUpper(strings.TrimSpace(req.ShippingAddress.CountryCode)),
			}},
		}},
		ApplicationContext: &paypalApplicationContext{
			ReturnURL:          c.returnURL,
			CancelURL:          c.cancelURL,
			ShippingPreference: "SET_PROVIDED_ADDRESS",
		},
	}

	var resp paypalOrderResponse
	if _, err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", payload, c.idempotencyKey(req.RequestID), &resp); err != nil {
		return CreatedOrder{}, err
	}
	if resp.ID == "" {
		return CreatedOrder{}, fmt.Errorf("%w: order id missing", ErrMalformedResponse)
	}

	created := CreatedOrder{ID: resp.ID, Status: resp.Status}
	for _, link := range resp.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			created.ApprovalURL = link.Href
			break
		}
	}
	return created, nil
}

// CaptureOrder settles an approved order and returns its first capture.
func (c *PayPalClient) CaptureOrder(ctx context.Context, req CaptureRequest) (Capture, error) {
	id := strings.TrimSpace(req.GatewayOrderID)
	if id == "" {
		return Capture{}, errors.New("paypal: gateway order id is required")
	}

	var resp paypalOrderResponse
	raw, err := c.do(ctx, "capture_order", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(id)+"/capture", struct{}{}, c.idempotencyKey(req.RequestID), &resp)
	if err != nil {
		return Capture{}, err
	}
	if len(resp.PurchaseUnits) == 0 || len(resp.PurchaseUnits[0].Payments.Captures) == 0 {
		return Capture{}, fmt.Errorf("%w: capture missing from order %s", ErrMalformedResponse, id)
	}

	captured := resp.PurchaseUnits[0].Payments.Captures[0]
	amount, err := captured.Amount.decimal()
	if err != nil {
		return Capture{}, fmt.Errorf("%w: capture amount: %v", ErrMalformedResponse, err)
	}
	return Capture{
		ID:       captured.ID,
		Status:   captured.Status,
		Amount:   amount,
		Currency: captured.Amount.CurrencyCode,
		Raw:      raw,
	}, nil
}

// GetOrder returns the gateway's view of an order unchanged.
func (c *PayPalClient) GetOrder(ctx context.Context, gatewayOrderID string) (map[string]any, error) {
	id := strings.TrimSpace(gatewayOrderID)
	if id == "" {
		return nil, errors.New("paypal: gateway order id is required")
	}
	var resp map[string]any
	if _, err := c.do(ctx, "get_order", http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RefundCapture refunds all or part of a capture.
func (c *PayPalClient) RefundCapture(ctx context.Context, req RefundRequest) (Refund, error) {
	id := strings.TrimSpace(req.CaptureID)
	if id == "" {
		return Refund{}, errors.New("paypal: capture id is required")
	}

	payload := paypalRefundRequest{NoteToPayer: truncate(req.Note, 255)}
	if req.Amount != nil {
		amount := newMoney(currencyOrDefault(req.Currency), *req.Amount)
		payload.Amount = &amount
	}

	var resp paypalRefundResponse
	raw, err := c.do(ctx, "refund_capture", http.MethodPost, "/v2/payments/captures/"+url.PathEscape(id)+"/refund", payload, c.idempotencyKey(req.RequestID), &resp)
	if err != nil {
		return Refund{}, err
	}
	if resp.ID == "" {
		return Refund{}, fmt.Errorf("%w: refund id missing", ErrMalformedResponse)
	}

	refund := Refund{ID: resp.ID, Status: resp.Status, Raw: raw}
	if resp.Amount != nil {
		amount, err := resp.Amount.decimal()
		if err != nil {
			return Refund{}, fmt.Errorf("%w: refund amount: %v", ErrMalformedResponse, err)
		}
		refund.Amount = amount
		refund.Currency = resp.Amount.CurrencyCode
	} else if req.Amount != nil {
		refund.Amount = *req.Amount
		refund.Currency = currencyOrDefault(req.Currency)
	}
	return refund, nil
}

// Ping checks that the configured credentials can obtain an access token. A cached token
// counts as healthy.
func (c *PayPalClient) Ping(ctx context.Context) error {
	_, err := c.tokens.Get(ctx, c.fetchToken)
	return err
}

// do sends an authorised JSON request and decodes a 2xx body into out. A 401 answer drops the
// cached token and the request is retried once with a fresh one.
func (c *PayPalClient) do(ctx context.Context, op, method, path string, body any, requestID string, out any) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("paypal: encode %s request: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx, c.fetchToken)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("paypal: build %s request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}

		started := c.clock()
		status, raw, err := c.send(req)
		if err != nil {
			return nil, fmt.Errorf("paypal: %s: %w", op, err)
		}
		c.logger(ctx, "paypal.request", map[string]any{
			"op":        op,
			"status":    status,
			"latencyMs": c.clock().Sub(started).Milliseconds(),
		})

		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate()
			continue
		}
		if status < 200 || status > 299 {
			return nil, &GatewayError{Op: op, Status: status, Payload: decodePayload(raw)}
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, op, err)
			}
		}
		return raw, nil
	}
}

func (c *PayPalClient) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := c.clock()
	status, raw, err := c.send(req)
	if err != nil {
		return Token{}, fmt.Errorf("paypal: token: %w", err)
	}
	if status < 200 || status > 299 {
		return Token{}, &GatewayError{Op: "access_token", Status: status, Payload: decodePayload(raw)}
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Token{}, fmt.Errorf("%w: token: %v", ErrMalformedResponse, err)
	}
	c.logger(ctx, "paypal.token.refreshed", map[string]any{"expiresIn": resp.ExpiresIn})
	return Token{
		Value:     resp.AccessToken,
		ExpiresAt: issuedAt.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (c *PayPalClient) send(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (c *PayPalClient) idempotencyKey(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return c.requestID()
}

func decodePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw)
	}
	return payload
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func newMoney(currency string, amount decimal.Decimal) paypalMoney {
	return paypalMoney{CurrencyCode: currency, Value: amount.StringFixed(2)}
}

func (m paypalMoney) decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(m.Value)
}

type paypalBreakdown struct {
	ItemTotal paypalMoney `json:"item_total"`
	TaxTotal  paypalMoney `json:"tax_total"`
	Shipping  paypalMoney `json:"shipping"`
}

type paypalAmount struct {
	paypalMoney
	Breakdown *paypalBreakdown `json:"breakdown,omitempty"`
}

type paypalItem struct {
	Name       string      `json:"name"`
	UnitAmount paypalMoney `json:"unit_amount"`
	Quantity   string      `json:"quantity"`
	Category   string      `json:"category"`
}

type paypalAddress struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	AdminArea1   string `json:"admin_area_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

type paypalShipping struct {
	Address paypalAddress `json:"address"`
}

type paypalPurchaseUnitRequest struct {
	CustomID    string          `json:"custom_id"`
	Description string          `json:"description"`
	Amount      paypalAmount    `json:"amount"`
	Items       []paypalItem    `json:"items,omitempty"`
	Shipping    *paypalShipping `json:"shipping,omitempty"`
}

type paypalApplicationContext struct {
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
}

type paypalCreateOrder struct {
	Intent             string                      `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext *paypalApplicationContext   `json:"application_context,omitempty"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalCapture struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount paypalMoney `json:"amount"`
}

type paypalOrderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalRefundRequest struct {
	Amount      *paypalMoney `json:"amount,omitempty"`
	NoteToPayer string       `json:"note_to_payer,omitempty"`
}

type paypalRefundResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount *paypalMoney `json:"amount"`
}
