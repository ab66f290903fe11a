package model

// CheckoutSession is the provider-issued handle the user is redirected to.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// Checkout is the result of initiating a purchase: a provider session plus
// the PENDING ledger row that records the intent.
type Checkout struct {
	TransactionID int64         `json:"transaction_id"`
	SessionID     string        `json:"session_id"`
	RedirectURL   string        `json:"redirect_url"`
	Package       CreditPackage `json:"package"`
}

// CaptureResult is the synchronous completion report from capture-style
// providers.
type CaptureResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	CaptureID string `json:"capture_id,omitempty"`
	Credits   int64  `json:"credits,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

const (
	WebhookPaymentCompleted = "payment.completed"
	WebhookPaymentFailed    = "payment.failed"
)

// WebhookEvent is the normalized shape both provider delivery models are
// reduced to before reaching the reconciler.
type WebhookEvent struct {
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	PaymentID  string `json:"payment_id"`
	UserID     int64  `json:"user_id"`
	Credits    int64  `json:"credits"`
	AmountCent int64  `json:"amount_cents"`
	Currency   string `json:"currency"`
}
