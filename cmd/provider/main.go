package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PaymentStatus represents the state of a payment on the provider side
type PaymentStatus string

const (
	StatusCreated   PaymentStatus = "CREATED"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusDeclined  PaymentStatus = "DECLINED"
)

// CreateSessionRequest is the webpay-style hosted checkout request
type CreateSessionRequest struct {
	Reference  string `json:"reference" binding:"required"`
	AmountCent int64  `json:"amount_cents" binding:"required"`
	Currency   string `json:"currency"`
	Email      string `json:"customer_email"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Metadata   struct {
		UserID  int64  `json:"user_id"`
		Package string `json:"package"`
		Credits int64  `json:"credits"`
	} `json:"metadata"`
}

// CreateOrderRequest is the capturepay-style order request
type CreateOrderRequest struct {
	AmountCent int64  `json:"amount_cents" binding:"required"`
	Currency   string `json:"currency"`
	Intent     string `json:"intent"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
	CustomID   string `json:"custom_id"`
}

type payment struct {
	ID         string
	Status     PaymentStatus
	AmountCent int64
	Currency   string
	UserID     int64
	Credits    int64
	CreatedAt  time.Time
}

// MockProvider simulates both payment providers behind one process: hosted
// checkout sessions reported over a signed webhook, and orders captured
// synchronously.
type MockProvider struct {
	mu          sync.Mutex
	payments    map[string]*payment
	approveRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	providerID  string
	webhookURL  string
	secret      string
	rng         *rand.Rand
}

func NewMockProvider(approveRate float64, minDelay, maxDelay time.Duration, webhookURL, secret string) *MockProvider {
	return &MockProvider{
		payments:    make(map[string]*payment),
		approveRate: approveRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		providerID:  "MOCK_PROVIDER_" + uuid.New().String()[:8],
		webhookURL:  webhookURL,
		secret:      secret,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) shouldApprove() bool {
	return m.rng.Float64() < m.approveRate
}

func (m *MockProvider) randomErrorCode() string {
	errorCodes := []string{
		"CARD_DECLINED",
		"INSUFFICIENT_FUNDS",
		"EXPIRED_CARD",
		"FRAUD_SUSPECTED",
		"ISSUER_UNAVAILABLE",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func (m *MockProvider) store(p *payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

func (m *MockProvider) get(id string) (*payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	return p, ok
}

// sign computes the webhook signature the gateway verifies on receipt.
func (m *MockProvider) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// deliverWebhook posts a signed completion event, repeating the delivery to
// exercise the receiver's redelivery handling.
func (m *MockProvider) deliverWebhook(eventType string, p *payment, repeats int) {
	if m.webhookURL == "" {
		log.Warn().Str("session_id", p.ID).Msg("No webhook URL configured, skipping delivery")
		return
	}

	ev := map[string]interface{}{
		"type": eventType,
		"data": map[string]interface{}{
			"session_id":   p.ID,
			"amount_cents": p.AmountCent,
			"currency":     p.Currency,
			"metadata": map[string]interface{}{
				"user_id": p.UserID,
				"credits": p.Credits,
			},
		},
	}

	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook event")
		return
	}
	signature := m.sign(body)

	for i := 0; i <= repeats; i++ {
		req, err := http.NewRequest(http.MethodPost, m.webhookURL, bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Msg("Failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webpay-Signature", signature)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Error().Err(err).Str("session_id", p.ID).Msg("Webhook delivery failed")
			continue
		}
		resp.Body.Close()

		log.Info().
			Str("session_id", p.ID).
			Str("type", eventType).
			Int("attempt", i+1).
			Int("status", resp.StatusCode).
			Msg("Webhook delivered")
	}
}

// Handler struct holds the mock provider and routes
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

// CreateSession handles hosted checkout session creation
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	p := &payment{
		ID:         "cs_" + uuid.New().String()[:12],
		Status:     StatusCreated,
		AmountCent: req.AmountCent,
		Currency:   req.Currency,
		UserID:     req.Metadata.UserID,
		Credits:    req.Metadata.Credits,
		CreatedAt:  time.Now(),
	}
	h.provider.store(p)

	log.Info().
		Str("session_id", p.ID).
		Str("reference", req.Reference).
		Int64("amount_cents", req.AmountCent).
		Msg("Checkout session created")

	c.JSON(http.StatusCreated, gin.H{
		"id":  p.ID,
		"url": fmt.Sprintf("https://pay.mock.local/checkout/%s", p.ID),
	})
}

// CompleteSession simulates the shopper finishing the hosted checkout. The
// outcome is reported asynchronously over the signed webhook, redelivered
// once to mimic real at-least-once providers.
func (h *Handler) CompleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	p, ok := h.provider.get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	time.Sleep(h.provider.randomDelay())

	eventType := "payment.completed"
	if h.provider.shouldApprove() {
		p.Status = StatusCompleted
	} else {
		p.Status = StatusDeclined
		eventType = "payment.failed"
	}

	go h.provider.deliverWebhook(eventType, p, 1)

	c.JSON(http.StatusOK, gin.H{
		"session_id": p.ID,
		"status":     p.Status,
	})
}

// CreateOrder handles capture-style order creation
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	var userID, credits int64
	var pkg string
	fmt.Sscanf(req.CustomID, "user-%d-%s-%d", &userID, &pkg, &credits)

	p := &payment{
		ID:         "ord_" + uuid.New().String()[:12],
		Status:     StatusCreated,
		AmountCent: req.AmountCent,
		Currency:   req.Currency,
		UserID:     userID,
		Credits:    credits,
		CreatedAt:  time.Now(),
	}
	h.provider.store(p)

	log.Info().
		Str("order_id", p.ID).
		Str("custom_id", req.CustomID).
		Int64("amount_cents", req.AmountCent).
		Msg("Order created")

	c.JSON(http.StatusCreated, gin.H{
		"id":          p.ID,
		"approve_url": fmt.Sprintf("https://pay.mock.local/approve/%s", p.ID),
	})
}

// CaptureOrder finalizes an approved order synchronously
func (h *Handler) CaptureOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	p, ok := h.provider.get(orderID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	// Captures are idempotent on the provider side too.
	if p.Status == StatusCompleted {
		c.JSON(http.StatusOK, gin.H{
			"id":      "cap_" + orderID,
			"status":  StatusCompleted,
			"credits": p.Credits,
		})
		return
	}

	time.Sleep(h.provider.randomDelay())

	if !h.provider.shouldApprove() {
		p.Status = StatusDeclined
		code := h.provider.randomErrorCode()

		log.Warn().
			Str("order_id", orderID).
			Str("error_code", code).
			Msg("Capture declined")

		c.JSON(http.StatusPaymentRequired, gin.H{
			"id":         orderID,
			"status":     StatusDeclined,
			"error_code": code,
		})
		return
	}

	p.Status = StatusCompleted

	log.Info().
		Str("order_id", orderID).
		Int64("credits", p.Credits).
		Msg("Capture completed")

	c.JSON(http.StatusOK, gin.H{
		"id":      "cap_" + uuid.New().String()[:12],
		"status":  StatusCompleted,
		"credits": p.Credits,
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"provider_id":  h.provider.providerID,
		"timestamp":    time.Now(),
		"approve_rate": h.provider.approveRate,
	})
}

// UpdateConfig allows changing provider configuration at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		ApproveRate *float64 `json:"approve_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.ApproveRate != nil {
		if *config.ApproveRate >= 0 && *config.ApproveRate <= 1.0 {
			h.provider.approveRate = *config.ApproveRate
			log.Info().Float64("rate", *config.ApproveRate).Msg("Updated approve rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"approve_rate": h.provider.approveRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout/sessions", handler.CreateSession)
		v1.POST("/checkout/sessions/:session_id/complete", handler.CompleteSession)
		v1.POST("/orders", handler.CreateOrder)
		v1.POST("/orders/:order_id/capture", handler.CaptureOrder)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	approveRate := getEnvFloat("APPROVE_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 100*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 2*time.Second)
	webhookURL := getEnv("WEBHOOK_URL", "")
	webhookSecret := getEnv("WEBHOOK_SECRET", "whsec_mock")

	log.Info().
		Str("port", port).
		Float64("approve_rate", approveRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Str("webhook_url", webhookURL).
		Msg("Starting Mock Payment Provider")

	// Create mock provider
	provider := NewMockProvider(approveRate, minDelay, maxDelay, webhookURL, webhookSecret)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
