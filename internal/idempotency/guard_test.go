package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/credits-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Mock Redis adapter for testing
type mockRedisAdapter struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Time
}

func newMockRedisAdapter() *mockRedisAdapter {
	return &mockRedisAdapter{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Time),
	}
}

func (m *mockRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *mockRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *mockRedisAdapter) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *mockRedisAdapter) Del(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockRedisAdapter) Exist(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

func (m *mockRedisAdapter) expire(key string) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
	}
}

// Stub implementations for unused methods
func (m *mockRedisAdapter) SMembers(key string) ([]string, error)         { return nil, nil }
func (m *mockRedisAdapter) SAdd(key string, value ...interface{}) error   { return nil }
func (m *mockRedisAdapter) HGet(key string, field string) ([]byte, error) { return nil, nil }
func (m *mockRedisAdapter) HGetAll(key string) (map[string]string, error) { return nil, nil }
func (m *mockRedisAdapter) HScan(key string, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (m *mockRedisAdapter) SScan(key string, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (m *mockRedisAdapter) HGetMultiple(keys ...string) (map[string]map[string]string, error) {
	return nil, nil
}
func (m *mockRedisAdapter) HSetIfNotExists(key string, field string, value interface{}) error {
	return nil
}
func (m *mockRedisAdapter) HSet(key string, field string, value interface{}) error { return nil }
func (m *mockRedisAdapter) HIncrement(key string, field string, value int64) error { return nil }
func (m *mockRedisAdapter) HIncrementBatch(coreName, keySuffix string, fieldAndValues map[string]int64, ttl time.Duration) error {
	return nil
}
func (m *mockRedisAdapter) TxPipelined(fn func(goredis.Pipeliner) error) ([]goredis.Cmder, error) {
	return nil, nil
}
func (m *mockRedisAdapter) Client() goredis.UniversalClient { return nil }
func (m *mockRedisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XAddWithID(key string, id string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XRead(key string, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XReadGroup(group, consumer, key, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XAck(key, group string, ids ...string) error           { return nil }
func (m *mockRedisAdapter) XGroupCreate(key, group, start string) error           { return nil }
func (m *mockRedisAdapter) XGroupCreateMkStream(key, group, start string) error   { return nil }
func (m *mockRedisAdapter) XLen(key string) (int64, error)                        { return 0, nil }
func (m *mockRedisAdapter) XDel(key string, ids ...string) error                  { return nil }
func (m *mockRedisAdapter) XTrim(key string, maxLen int64) error                  { return nil }
func (m *mockRedisAdapter) XTrimApprox(key string, maxLen int64) error            { return nil }
func (m *mockRedisAdapter) XPending(key, group string) (*goredis.XPending, error) { return nil, nil }
func (m *mockRedisAdapter) XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.StreamMessage, error) {
	return nil, nil
}

func testConfig() Config {
	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	config.WaitTimeout = 200 * time.Millisecond
	return config
}

func TestGuard_FirstRequestExecutes(t *testing.T) {
	guard := NewGuard(newMockRedisAdapter(), testConfig())
	ctx := context.Background()

	calls := 0
	result, err := guard.Do(ctx, "key-1", func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"balance":10}`), nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Replayed {
		t.Error("First execution should not be a replay")
	}
	if string(result.Body) != `{"balance":10}` {
		t.Errorf("Unexpected body: %s", result.Body)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestGuard_RetryReplaysWithoutExecuting(t *testing.T) {
	guard := NewGuard(newMockRedisAdapter(), testConfig())
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"balance":10}`), nil
	}

	if _, err := guard.Do(ctx, "key-2", op); err != nil {
		t.Fatalf("First call failed: %v", err)
	}

	result, err := guard.Do(ctx, "key-2", op)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Replayed {
		t.Error("Second call should be a replay")
	}
	if string(result.Body) != `{"balance":10}` {
		t.Errorf("Replay body mismatch: %s", result.Body)
	}
	if calls != 1 {
		t.Errorf("Operation should run once, ran %d times", calls)
	}
}

func TestGuard_DistinctKeysAreIndependent(t *testing.T) {
	guard := NewGuard(newMockRedisAdapter(), testConfig())
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	guard.Do(ctx, "key-a", op)
	guard.Do(ctx, "key-b", op)

	if calls != 2 {
		t.Errorf("Expected 2 executions for 2 keys, got %d", calls)
	}
}

func TestGuard_FailureIsNotSnapshotted(t *testing.T) {
	guard := NewGuard(newMockRedisAdapter(), testConfig())
	ctx := context.Background()

	calls := 0
	failing := errors.New("provider unreachable")
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, failing
		}
		return []byte("ok"), nil
	}

	if _, err := guard.Do(ctx, "key-3", op); !errors.Is(err, failing) {
		t.Fatalf("Expected the operation error, got: %v", err)
	}

	// The retry must re-execute, not replay the failure.
	result, err := guard.Do(ctx, "key-3", op)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if result.Replayed {
		t.Error("Retry after failure should execute, not replay")
	}
	if calls != 2 {
		t.Errorf("Expected 2 executions, got %d", calls)
	}
}

func TestGuard_ConcurrentRequestsExecuteOnce(t *testing.T) {
	guard := NewGuard(newMockRedisAdapter(), testConfig())
	ctx := context.Background()

	var calls int64
	var mu sync.Mutex
	op := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return []byte(`{"txn":1}`), nil
	}

	const workers = 5
	results := make([]*Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.Do(ctx, "key-4", op)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected exactly one execution, got %d", calls)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("Worker %d failed: %v", i, errs[i])
			continue
		}
		if string(results[i].Body) != `{"txn":1}` {
			t.Errorf("Worker %d got wrong body: %s", i, results[i].Body)
		}
	}
}

func TestGuard_LoserTakesOverAfterWinnerFails(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	guard := NewGuard(mockRedis, testConfig())
	ctx := context.Background()

	// Simulate a winner that claimed and failed: no snapshot, claim gone.
	acquired, _ := mockRedis.SetNX("idem:claim:key-5", []byte("1"), time.Second)
	if !acquired {
		t.Fatal("Setup claim failed")
	}

	done := make(chan struct{})
	var result *Result
	var err error
	go func() {
		defer close(done)
		result, err = guard.Do(ctx, "key-5", func(ctx context.Context) ([]byte, error) {
			return []byte("recovered"), nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mockRedis.Del("idem:claim:key-5")

	<-done
	if err != nil {
		t.Fatalf("Expected takeover to succeed, got: %v", err)
	}
	if string(result.Body) != "recovered" {
		t.Errorf("Unexpected body: %s", result.Body)
	}
}

func TestGuard_WaitTimeout(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	config := testConfig()
	config.WaitTimeout = 30 * time.Millisecond
	guard := NewGuard(mockRedis, config)
	ctx := context.Background()

	// A claim that never resolves.
	mockRedis.SetNX("idem:claim:key-6", []byte("1"), time.Minute)

	_, err := guard.Do(ctx, "key-6", func(ctx context.Context) ([]byte, error) {
		return []byte("never"), nil
	})
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("Expected ErrInFlight, got: %v", err)
	}
}
