package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

type CheckoutService interface {
	CreateCheckout(ctx context.Context, userID int64, packageID, providerName string) (*model.Checkout, error)
}

type ReconcilerService interface {
	ConfirmPayment(ctx context.Context, provider, paymentID string, providerCredits int64) (*services.Confirmation, error)
	FailPayment(ctx context.Context, provider, paymentID, reason string) error
}

// Capturer finalizes approved orders on the synchronous provider.
type Capturer interface {
	Capture(ctx context.Context, orderID string) (*model.CaptureResult, error)
}

// WebhookVerifier authenticates and decodes async provider callbacks.
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) error
	ParseWebhook(body []byte) (*model.WebhookEvent, error)
}

type PaymentsHandler struct {
	checkout   CheckoutService
	reconciler ReconcilerService
	capturer   Capturer
	webhook    WebhookVerifier
	guard      *idempotency.Guard
}

func NewPaymentsHandler(checkout CheckoutService, reconciler ReconcilerService, capturer Capturer, webhook WebhookVerifier, guard *idempotency.Guard) *PaymentsHandler {
	return &PaymentsHandler{
		checkout:   checkout,
		reconciler: reconciler,
		capturer:   capturer,
		webhook:    webhook,
		guard:      guard,
	}
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentsHandler) {
	e.POST("/payments/checkout", h.CreateCheckout)
	e.POST("/payments/capturepay/capture", h.CaptureOrder)
	e.POST("/payments/webpay/webhook", h.WebpayWebhook)
}

type checkoutRequest struct {
	UserID    int64  `json:"user_id"`
	PackageID string `json:"package_id"`
	Provider  string `json:"provider"`
}

func (h *PaymentsHandler) CreateCheckout(ctx *xhttp.RequestCtx) {
	var req checkoutRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	withIdempotency(ctx, h.guard, func() (int, any, error) {
		checkout, err := h.checkout.CreateCheckout(ctx, req.UserID, req.PackageID, req.Provider)
		if err != nil {
			return 0, nil, err
		}
		return 201, checkout, nil
	})
}

type captureRequest struct {
	PaymentID string `json:"payment_id"`
}

// CaptureOrder finalizes a capturepay order the user approved. The capture
// call and the ledger credit happen in this request; the provider's answer
// is definitive so a decline marks the purchase FAILED.
func (h *PaymentsHandler) CaptureOrder(ctx *xhttp.RequestCtx) {
	var req captureRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.PaymentID == "" {
		writeError(ctx, 400, "payment_id is required")
		return
	}

	withIdempotency(ctx, h.guard, func() (int, any, error) {
		capture, err := h.capturer.Capture(ctx, req.PaymentID)
		if err != nil {
			return 0, nil, err
		}

		if !capture.Success {
			if ferr := h.reconciler.FailPayment(ctx, gateway.CapturepayName, req.PaymentID, capture.ErrorCode); ferr != nil {
				return 0, nil, ferr
			}
			return 402, map[string]any{
				"status":     "failed",
				"payment_id": req.PaymentID,
				"error_code": capture.ErrorCode,
			}, nil
		}

		conf, err := h.reconciler.ConfirmPayment(ctx, gateway.CapturepayName, req.PaymentID, capture.Credits)
		if err != nil {
			return 0, nil, err
		}
		return 200, conf, nil
	})
}

// WebpayWebhook receives async completion reports. Signature first, then
// parse, then reconcile. Replays and races all come back 200: the provider
// only needs to know the event landed.
func (h *PaymentsHandler) WebpayWebhook(ctx *xhttp.RequestCtx) {
	body := ctx.PostBody()
	signature := string(ctx.Request.Header.Peek(gateway.WebpaySignatureHeader))

	if err := h.webhook.VerifyWebhook(body, signature); err != nil {
		logger.Warn("rejected webhook with bad signature", "error", err)
		writeError(ctx, 401, "invalid signature")
		return
	}

	event, err := h.webhook.ParseWebhook(body)
	if err != nil {
		writeError(ctx, 400, "malformed webhook payload")
		return
	}

	switch event.Type {
	case model.WebhookPaymentCompleted:
		conf, err := h.reconciler.ConfirmPayment(ctx, event.Provider, event.PaymentID, event.Credits)
		if err != nil {
			if errors.Is(err, services.ErrNoPendingTransaction) {
				// Retrying an orphan will never succeed; acknowledge it so
				// the provider stops redelivering.
				writeJSON(ctx, 200, map[string]string{"status": "ignored"})
				return
			}
			writeServiceError(ctx, err)
			return
		}
		writeJSON(ctx, 200, conf)

	case model.WebhookPaymentFailed:
		if err := h.reconciler.FailPayment(ctx, event.Provider, event.PaymentID, "provider reported failure"); err != nil {
			if errors.Is(err, services.ErrNoPendingTransaction) {
				writeJSON(ctx, 200, map[string]string{"status": "ignored"})
				return
			}
			writeServiceError(ctx, err)
			return
		}
		writeJSON(ctx, 200, map[string]string{"status": "failed"})

	default:
		// Unknown event types are acknowledged and dropped.
		logger.Info("ignoring unhandled webhook event", "type", event.Type)
		writeJSON(ctx, 200, map[string]string{"status": "ignored"})
	}
}
