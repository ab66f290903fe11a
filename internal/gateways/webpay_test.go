package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebpay_VerifyWebhook(t *testing.T) {
	w := NewWebpay("https://api.webpay.example.com", "key", "whsec_test", nil)
	body := []byte(`{"type":"payment.completed","data":{"session_id":"cs_1"}}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, w.VerifyWebhook(body, sign("whsec_test", body)))
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := w.VerifyWebhook(body, sign("whsec_other", body))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := sign("whsec_test", body)
		tampered := []byte(`{"type":"payment.completed","data":{"session_id":"cs_2"}}`)
		assert.ErrorIs(t, w.VerifyWebhook(tampered, sig), ErrInvalidSignature)
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.ErrorIs(t, w.VerifyWebhook(body, ""), ErrInvalidSignature)
	})
}

func TestWebpay_ParseWebhook(t *testing.T) {
	w := NewWebpay("https://api.webpay.example.com", "key", "whsec_test", nil)

	t.Run("completed event", func(t *testing.T) {
		body := []byte(`{
			"type": "payment.completed",
			"data": {
				"session_id": "cs_123",
				"amount_cents": 999,
				"currency": "USD",
				"metadata": {"user_id": 7, "credits": 25}
			}
		}`)

		ev, err := w.ParseWebhook(body)
		require.NoError(t, err)
		assert.Equal(t, "payment.completed", ev.Type)
		assert.Equal(t, "webpay", ev.Provider)
		assert.Equal(t, "cs_123", ev.PaymentID)
		assert.Equal(t, int64(7), ev.UserID)
		assert.Equal(t, int64(25), ev.Credits)
		assert.Equal(t, int64(999), ev.AmountCent)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := w.ParseWebhook([]byte(`{"type":`))
		assert.ErrorIs(t, err, ErrMalformedWebhook)
	})

	t.Run("missing session id", func(t *testing.T) {
		_, err := w.ParseWebhook([]byte(`{"type":"payment.completed","data":{}}`))
		assert.ErrorIs(t, err, ErrMalformedWebhook)
	})
}

func TestWebpay_IsConfigured(t *testing.T) {
	assert.True(t, NewWebpay("https://api.webpay.example.com", "key", "secret", nil).IsConfigured())
	assert.False(t, NewWebpay("", "key", "secret", nil).IsConfigured())
	assert.False(t, NewWebpay("https://api.webpay.example.com", "", "secret", nil).IsConfigured())
	assert.False(t, NewWebpay("https://api.webpay.example.com", "key", "", nil).IsConfigured())
}

func TestCapturepay_IsConfigured(t *testing.T) {
	assert.True(t, NewCapturepay("https://api.capturepay.example.com", "key", nil).IsConfigured())
	assert.False(t, NewCapturepay("https://api.capturepay.example.com", "", nil).IsConfigured())
}
