package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/internal/services"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/nimasrn/credits-gateway/pkg/redis"
	"github.com/nimasrn/credits-gateway/test/helpers"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider stands in for a payment provider so checkout never leaves
// the process.
type stubProvider struct {
	name     string
	sessions int
}

func (p *stubProvider) Name() string       { return p.name }
func (p *stubProvider) IsConfigured() bool { return true }

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, user *model.User, pkg model.CreditPackage, successURL, cancelURL string) (*model.CheckoutSession, error) {
	p.sessions++
	id := fmt.Sprintf("sess_%s_%d", pkg.ID, p.sessions)
	return &model.CheckoutSession{
		SessionID:   id,
		RedirectURL: "https://pay.test/" + id,
	}, nil
}

type TestEnvironment struct {
	DB          *pg.DB
	Redis       *miniredis.Miniredis
	Queue       *queue.Queue
	Provider    *stubProvider
	AccountRepo *repository.AccountRepository
	TxnRepo     *repository.TransactionRepository
	UserRepo    *repository.UserRepository
	UnlockRepo  *repository.UnlockRepository
	Ledger      *services.LedgerService
	Checkout    *services.CheckoutService
	Reconciler  *services.ReconcilerService
	Bonus       *services.BonusService
	Readings    *services.ReadingService
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := helpers.SetupTestDB(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.NewQueue(redisAdapter, queue.QueueConfig{
		Name:              "test:audit",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	auditor := audit.NewQueuePublisher(q)

	accountRepo := repository.NewAccountRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	userRepo := repository.NewUserRepository(db)
	unlockRepo := repository.NewUnlockRepository(db)

	provider := &stubProvider{name: "webpay"}

	ledger := services.NewLedgerService(accountRepo, txnRepo, auditor)
	bonus := services.NewBonusService(accountRepo, unlockRepo, userRepo, ledger, auditor)
	readings := services.NewReadingService(ledger, bonus, txnRepo)
	checkout := services.NewCheckoutService(
		[]services.PaymentProvider{provider},
		userRepo, txnRepo, auditor,
		"https://app.test/success", "https://app.test/cancel",
	)
	reconciler := services.NewReconcilerService(accountRepo, txnRepo, auditor)

	return &TestEnvironment{
		DB:          db,
		Redis:       mr,
		Queue:       q,
		Provider:    provider,
		AccountRepo: accountRepo,
		TxnRepo:     txnRepo,
		UserRepo:    userRepo,
		UnlockRepo:  unlockRepo,
		Ledger:      ledger,
		Checkout:    checkout,
		Reconciler:  reconciler,
		Bonus:       bonus,
		Readings:    readings,
	}
}

func (env *TestEnvironment) Cleanup() {
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	time.Sleep(100 * time.Millisecond)
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) seedUser(t *testing.T, id int64, credits int64) {
	helpers.CreateTestUser(t, env.DB, id, fmt.Sprintf("user%d@example.com", id), fmt.Sprintf("REF%04d", id))
	helpers.CreateTestAccount(t, env.DB, id, credits)
}

func TestE2E_CheckoutCreatesPendingTransaction(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 1, 0)

	checkout, err := env.Checkout.CreateCheckout(ctx, 1, "seeker", "webpay")
	require.NoError(t, err)
	assert.NotZero(t, checkout.TransactionID)
	assert.NotEmpty(t, checkout.SessionID)
	assert.Equal(t, int64(25), checkout.Package.Credits)

	txn, err := env.TxnRepo.Get(ctx, checkout.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, txn.Status)
	assert.Equal(t, model.KindPurchase, txn.Kind)
	require.NotNil(t, txn.ProviderPaymentID)
	assert.Equal(t, checkout.SessionID, *txn.ProviderPaymentID)

	// Nothing is credited until the provider confirms.
	balance, err := env.AccountRepo.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestE2E_ConfirmPaymentCreditsExactlyOnce(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 2, 0)

	checkout, err := env.Checkout.CreateCheckout(ctx, 2, "seeker", "webpay")
	require.NoError(t, err)

	conf, err := env.Reconciler.ConfirmPayment(ctx, "webpay", checkout.SessionID, 25)
	require.NoError(t, err)
	assert.False(t, conf.Replayed)
	assert.Equal(t, int64(25), conf.Credited)
	assert.Equal(t, int64(25), conf.NewBalance)

	// Redelivered confirmation replays the recorded outcome without a
	// second credit.
	replay, err := env.Reconciler.ConfirmPayment(ctx, "webpay", checkout.SessionID, 25)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	balance, err := env.AccountRepo.GetBalance(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	txn, err := env.TxnRepo.Get(ctx, checkout.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, txn.Status)
}

func TestE2E_FailedPaymentNeverCredits(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 3, 0)

	checkout, err := env.Checkout.CreateCheckout(ctx, 3, "starter", "webpay")
	require.NoError(t, err)

	err = env.Reconciler.FailPayment(ctx, "webpay", checkout.SessionID, "card_declined")
	require.NoError(t, err)

	txn, err := env.TxnRepo.Get(ctx, checkout.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, txn.Status)

	// A completion arriving after the failure must not credit.
	conf, err := env.Reconciler.ConfirmPayment(ctx, "webpay", checkout.SessionID, 10)
	require.NoError(t, err)
	assert.True(t, conf.Replayed)
	assert.Equal(t, model.StatusFailed, conf.Status)

	balance, err := env.AccountRepo.GetBalance(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestE2E_ReadingSpendsCredits(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 4, 10)

	result, err := env.Readings.PerformReading(ctx, 4, "three_card")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Cost)

	balance, err := env.AccountRepo.GetBalance(ctx, 4)
	require.NoError(t, err)

	// 10 - 3 spend + 3 first-reading achievement.
	assert.Equal(t, int64(10), balance)

	unlocked, err := env.UnlockRepo.IsUnlocked(ctx, 4, "first_reading")
	require.NoError(t, err)
	assert.True(t, unlocked)
}

func TestE2E_InsufficientCreditsRejectsReading(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 5, 2)

	result, err := env.Readings.PerformReading(ctx, 5, "celtic_cross")
	assert.ErrorIs(t, err, services.ErrInsufficientCredits)
	assert.Nil(t, result)

	balance, err := env.AccountRepo.GetBalance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	var count int64
	env.DB.Read(ctx).Model(&repository.TransactionEntity{}).Where("user_id = ?", 5).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestE2E_DailyBonusOncePerDay(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 6, 0)

	result, err := env.Bonus.GrantDailyBonus(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Streak)
	assert.Equal(t, int64(2), result.Granted)

	_, err = env.Bonus.GrantDailyBonus(ctx, 6)
	assert.ErrorIs(t, err, services.ErrDailyBonusClaimed)

	balance, err := env.AccountRepo.GetBalance(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestE2E_ReferralCreditsBothSidesOnce(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 7, 0)
	env.seedUser(t, 8, 0)

	referrer, err := env.UserRepo.FindByID(ctx, 7)
	require.NoError(t, err)

	result, err := env.Bonus.RedeemReferral(ctx, 8, referrer.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Granted)

	_, err = env.Bonus.RedeemReferral(ctx, 8, referrer.ReferralCode)
	assert.ErrorIs(t, err, services.ErrReferralRedeemed)

	for _, userID := range []int64{7, 8} {
		balance, err := env.AccountRepo.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance, "user %d", userID)
	}
}

func TestE2E_AuditEventsPublished(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedUser(t, 9, 10)

	_, err := env.Readings.PerformReading(ctx, 9, "single")
	require.NoError(t, err)

	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(1))
}
