package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

const (
	WebpayName            = "webpay"
	WebpaySignatureHeader = "X-Webpay-Signature"
)

var (
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// Webpay is the redirect-and-webhook provider: checkout opens a hosted page
// and the completion report arrives later on the webhook endpoint, possibly
// more than once.
type Webpay struct {
	client        *restClient
	apiKey        string
	webhookSecret string
}

func NewWebpay(baseURL, apiKey, webhookSecret string, config *Config) *Webpay {
	return &Webpay{
		client:        newRESTClient(baseURL, config),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
	}
}

func (w *Webpay) Name() string { return WebpayName }

func (w *Webpay) IsConfigured() bool {
	return w.client.baseURL != "" && w.apiKey != "" && w.webhookSecret != ""
}

func (w *Webpay) CreateCheckoutSession(ctx context.Context, user *model.User, pkg model.CreditPackage, successURL, cancelURL string) (*model.CheckoutSession, error) {
	payload := struct {
		Reference  string `json:"reference"`
		AmountCent int64  `json:"amount_cents"`
		Currency   string `json:"currency"`
		Email      string `json:"customer_email"`
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
		Metadata   struct {
			UserID  int64  `json:"user_id"`
			Package string `json:"package"`
			Credits int64  `json:"credits"`
		} `json:"metadata"`
	}{
		Reference:  fmt.Sprintf("user-%d-%s", user.ID, pkg.ID),
		AmountCent: pkg.PriceCents,
		Currency:   pkg.Currency,
		Email:      user.Email,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
	payload.Metadata.UserID = user.ID
	payload.Metadata.Package = pkg.ID
	payload.Metadata.Credits = pkg.Credits

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	respBody, status, err := w.client.doRequest(ctx, "POST", "/api/v1/checkout/sessions", w.apiKey, body)
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		return nil, fmt.Errorf("webpay rejected session: %d %s", status, respBody)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session response: %w", err)
	}

	logger.Info("webpay session created", "user_id", user.ID, "package", pkg.ID, "session_id", session.ID)

	return &model.CheckoutSession{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// VerifyWebhook checks the HMAC-SHA256 signature over the raw body. Callers
// must verify before parsing; an unsigned body is untrusted input.
func (w *Webpay) VerifyWebhook(body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(w.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook normalizes a verified webhook body into a WebhookEvent.
func (w *Webpay) ParseWebhook(body []byte) (*model.WebhookEvent, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			SessionID  string `json:"session_id"`
			AmountCent int64  `json:"amount_cents"`
			Currency   string `json:"currency"`
			Metadata   struct {
				UserID  int64 `json:"user_id"`
				Credits int64 `json:"credits"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if raw.Type == "" || raw.Data.SessionID == "" {
		return nil, ErrMalformedWebhook
	}

	return &model.WebhookEvent{
		Type:       raw.Type,
		Provider:   WebpayName,
		PaymentID:  raw.Data.SessionID,
		UserID:     raw.Data.Metadata.UserID,
		Credits:    raw.Data.Metadata.Credits,
		AmountCent: raw.Data.AmountCent,
		Currency:   raw.Data.Currency,
	}, nil
}
