package gateway

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
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Заголовки, которые PayPal добавляет к вебхуку.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
)

var (
	// ErrUnavailable шлюз недоступен или разомкнут предохранитель.
	ErrUnavailable = errors.New("gateway: payment provider unavailable")
	// ErrAuth PayPal отклонил учётные данные клиента.
	ErrAuth = errors.New("gateway: authentication rejected")
	// ErrAlreadyCaptured заказ уже списан раньше, повторный вызов ничего не изменил.
	ErrAlreadyCaptured = errors.New("gateway: order already captured")
)

// Статусы списания PayPal.
const (
	CaptureStatusCompleted = "COMPLETED"
	CaptureStatusPending   = "PENDING"
	CaptureStatusDeclined  = "DECLINED"
	CaptureStatusFailed    = "FAILED"
)

// Config параметры подключения к PayPal.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
	ReturnURL    string
	CancelURL    string
	Currency     string
}

// OrderRequest создание заказа на оплату.
type OrderRequest struct {
	ReferenceID string
	Description string
	Amount      decimal.Decimal
}

// Order созданный у PayPal заказ.
type Order struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approve_url"`
}

// Capture результат списания одобренного заказа.
type Capture struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	CaptureID     string `json:"capture_id"`
	CaptureStatus string `json:"capture_status"`
}

func (c *Capture) Completed() bool {
	return c.CaptureStatus == CaptureStatusCompleted
}

func (c *Capture) Declined() bool {
	return c.CaptureStatus == CaptureStatusDeclined || c.CaptureStatus == CaptureStatusFailed
}

// PayoutRequest выплата на PayPal-адрес получателя.
type PayoutRequest struct {
	BatchID  string
	Receiver string
	Amount   decimal.Decimal
	Note     string
}

// PayoutResult ответ на создание выплаты.
type PayoutResult struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// Client клиент PayPal REST API с кэшем токена и предохранителем.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient создаёт клиента шлюза.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "paypal",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
			IsSuccessful: breakerSuccess,
		}),
	}
}

// VerifyWebhookSignature проверяет подпись вебхука через API PayPal.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	if c.cfg.WebhookID == "" {
		return false, errors.New("gateway: webhook id is not configured")
	}
	if !json.Valid(body) {
		return false, nil
	}

	payload := map[string]interface{}{
		"auth_algo":         headers.Get(HeaderAuthAlgo),
		"cert_url":          headers.Get(HeaderCertURL),
		"transmission_id":   headers.Get(HeaderTransmissionID),
		"transmission_sig":  headers.Get(HeaderTransmissionSig),
		"transmission_time": headers.Get(HeaderTransmissionTime),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", nil, payload, &resp)
	if isClientError(err) {
		// PayPal отверг тело или заголовки проверки, подпись считаем неверной
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

// CreateOrder создаёт заказ с немедленным списанием после подтверждения покупателем.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.ReferenceID,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": c.cfg.Currency,
				"value":         req.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": c.cfg.ReturnURL,
			"cancel_url": c.cfg.CancelURL,
		},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", nil, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.New("gateway: order id is empty")
	}

	order := &Order{ID: resp.ID, Status: resp.Status}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApproveURL = l.Href
			break
		}
	}
	return order, nil
}

// CaptureOrder списывает одобренный покупателем заказ.
// PayPal-Request-Id привязан к заказу, повтор вызова PayPal отрабатывает как тот же запрос.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("gateway: order id is empty")
	}
	header := http.Header{}
	header.Set("PayPal-Request-Id", "capture-"+orderID)

	var resp struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	err := c.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", header, struct{}{}, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnprocessableEntity {
		switch {
		case strings.Contains(statusErr.Body, "ORDER_ALREADY_CAPTURED"):
			return nil, ErrAlreadyCaptured
		case strings.Contains(statusErr.Body, "INSTRUMENT_DECLINED"), strings.Contains(statusErr.Body, "TRANSACTION_REFUSED"):
			return &Capture{OrderID: orderID, CaptureStatus: CaptureStatusDeclined}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	capture := &Capture{OrderID: resp.ID, Status: resp.Status}
	if capture.OrderID == "" {
		capture.OrderID = orderID
	}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		first := resp.PurchaseUnits[0].Payments.Captures[0]
		capture.CaptureID = first.ID
		capture.CaptureStatus = first.Status
	}
	return capture, nil
}

// Payout отправляет выплату на PayPal-адрес получателя.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	payload := map[string]interface{}{
		"sender_batch_header": map[string]string{
			"sender_batch_id": req.BatchID,
			"email_subject":   "Вы получили выплату",
		},
		"items": []map[string]interface{}{{
			"recipient_type": "EMAIL",
			"receiver":       req.Receiver,
			"note":           req.Note,
			"sender_item_id": req.BatchID,
			"amount": map[string]string{
				"currency": c.cfg.Currency,
				"value":    req.Amount.StringFixed(2),
			},
		}},
	}

	var resp struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
			BatchStatus   string `json:"batch_status"`
		} `json:"batch_header"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/payments/payouts", nil, payload, &resp); err != nil {
		return nil, err
	}
	return &PayoutResult{BatchID: resp.BatchHeader.PayoutBatchID, Status: resp.BatchHeader.BatchStatus}, nil
}

// call выполняет авторизованный запрос через предохранитель.
func (c *Client) call(ctx context.Context, method, path string, header http.Header, payload, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gateway: build request %w", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return nil, c.do(req, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// token возвращает OAuth-токен, обновляя его за минуту до истечения.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gateway: build token request %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.do(req, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return "", fmt.Errorf("%w: status %d", ErrAuth, statusErr.Code)
		}
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("gateway: empty access token")
	}

	c.accessToken = resp.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response %w", err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode response %w", err)
	}
	return nil
}

// breakerSuccess ответ 4xx означает ошибку запроса, а не сбой PayPal, и не размыкает предохранитель.
func breakerSuccess(err error) bool {
	return err == nil || isClientError(err)
}

// isClientError ответ 4xx от вызванного метода, кроме 429.
func isClientError(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests
}

// StatusError неуспешный HTTP-ответ PayPal.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("gateway: unexpected status %d: %s", e.Code, body)
}
