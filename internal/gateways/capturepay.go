package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

const CapturepayName = "capturepay"

// Capturepay is the synchronous provider: the user approves the order on the
// provider's page, then our server captures it and learns the outcome in the
// same call. A declined capture is a definitive answer, not an error.
type Capturepay struct {
	client *restClient
	apiKey string
}

func NewCapturepay(baseURL, apiKey string, config *Config) *Capturepay {
	return &Capturepay{
		client: newRESTClient(baseURL, config),
		apiKey: apiKey,
	}
}

func (c *Capturepay) Name() string { return CapturepayName }

func (c *Capturepay) IsConfigured() bool {
	return c.client.baseURL != "" && c.apiKey != ""
}

func (c *Capturepay) CreateCheckoutSession(ctx context.Context, user *model.User, pkg model.CreditPackage, successURL, cancelURL string) (*model.CheckoutSession, error) {
	payload := struct {
		AmountCent int64  `json:"amount_cents"`
		Currency   string `json:"currency"`
		Intent     string `json:"intent"`
		ReturnURL  string `json:"return_url"`
		CancelURL  string `json:"cancel_url"`
		CustomID   string `json:"custom_id"`
	}{
		AmountCent: pkg.PriceCents,
		Currency:   pkg.Currency,
		Intent:     "CAPTURE",
		ReturnURL:  successURL,
		CancelURL:  cancelURL,
		CustomID:   fmt.Sprintf("user-%d-%s-%d", user.ID, pkg.ID, pkg.Credits),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	respBody, status, err := c.client.doRequest(ctx, "POST", "/api/v1/orders", c.apiKey, body)
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		return nil, fmt.Errorf("capturepay rejected order: %d %s", status, respBody)
	}

	var order struct {
		ID         string `json:"id"`
		ApproveURL string `json:"approve_url"`
	}
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order response: %w", err)
	}

	logger.Info("capturepay order created", "user_id", user.ID, "package", pkg.ID, "order_id", order.ID)

	return &model.CheckoutSession{SessionID: order.ID, RedirectURL: order.ApproveURL}, nil
}

// Capture finalizes an approved order. The returned result is authoritative
// either way: Success false means the provider declined the payment.
func (c *Capturepay) Capture(ctx context.Context, orderID string) (*model.CaptureResult, error) {
	path := fmt.Sprintf("/api/v1/orders/%s/capture", orderID)
	respBody, status, err := c.client.doRequest(ctx, "POST", path, c.apiKey, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Credits int64  `json:"credits"`
		Error   string `json:"error_code,omitempty"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal capture response: %w", err)
	}

	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		logger.Warn("capturepay declined capture", "order_id", orderID, "status", status, "error_code", raw.Error)
		return &model.CaptureResult{Success: false, PaymentID: orderID, ErrorCode: raw.Error}, nil
	}

	return &model.CaptureResult{
		Success:   raw.Status == "COMPLETED",
		PaymentID: orderID,
		CaptureID: raw.ID,
		Credits:   raw.Credits,
		ErrorCode: raw.Error,
	}, nil
}
