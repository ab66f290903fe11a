package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/redis"
)

var (
	// ErrInFlight means another request with the same key is still running
	// and no snapshot appeared within the wait window.
	ErrInFlight = errors.New("request with this idempotency key is in flight")
)

type Config struct {
	// ClaimTTL bounds how long a crashed holder can block the key.
	ClaimTTL time.Duration

	// ResponseTTL is how long a successful response stays replayable.
	ResponseTTL time.Duration

	PollInterval time.Duration

	WaitTimeout time.Duration

	ClaimKeyPrefix string

	ResponseKeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		ClaimTTL:          30 * time.Second,
		ResponseTTL:       24 * time.Hour,
		PollInterval:      50 * time.Millisecond,
		WaitTimeout:       5 * time.Second,
		ClaimKeyPrefix:    "idem:claim:",
		ResponseKeyPrefix: "idem:resp:",
	}
}

// Result carries the response body for the key. Replayed is true when the
// body came from a stored snapshot rather than this execution.
type Result struct {
	Body     []byte
	Replayed bool
}

// Guard makes retried client requests safe: for a given key the wrapped
// operation runs at most once, and every caller gets the same response.
// Only successful responses are snapshotted; a failed operation releases
// the key so the client's retry can run it again.
type Guard struct {
	redis  redis.RedisAdapter
	config Config
}

func NewGuard(redisAdapter redis.RedisAdapter, config Config) *Guard {
	return &Guard{
		redis:  redisAdapter,
		config: config,
	}
}

// Do executes op under the key. The winner of the SetNX claim runs op;
// concurrent callers wait for the winner's snapshot instead of running op
// themselves.
func (g *Guard) Do(ctx context.Context, key string, op func(ctx context.Context) ([]byte, error)) (*Result, error) {
	respKey := g.config.ResponseKeyPrefix + key
	claimKey := g.config.ClaimKeyPrefix + key

	if body, err := g.redis.Get(respKey); err == nil {
		logger.Debug("replaying stored response", "key", key)
		return &Result{Body: body, Replayed: true}, nil
	} else if err != redis.NilError {
		// A broken guard must not take the operation down with it. Run the
		// op unguarded; the storage layer's own idempotency still holds.
		logger.Warn("idempotency lookup failed, running unguarded", "key", key, "error", err)
		body, opErr := op(ctx)
		if opErr != nil {
			return nil, opErr
		}
		return &Result{Body: body}, nil
	}

	claimValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	acquired, err := g.redis.SetNX(claimKey, claimValue, g.config.ClaimTTL)
	if err != nil {
		logger.Warn("idempotency claim failed, running unguarded", "key", key, "error", err)
		body, opErr := op(ctx)
		if opErr != nil {
			return nil, opErr
		}
		return &Result{Body: body}, nil
	}

	if !acquired {
		return g.waitForSnapshot(ctx, key, respKey, claimKey, op)
	}

	return g.run(ctx, key, respKey, claimKey, op)
}

func (g *Guard) run(ctx context.Context, key, respKey, claimKey string, op func(ctx context.Context) ([]byte, error)) (*Result, error) {
	body, err := op(ctx)
	if err != nil {
		// Release the claim so the client's retry re-executes.
		if derr := g.redis.Del(claimKey); derr != nil {
			logger.Warn("failed to release idempotency claim", "key", key, "error", derr)
		}
		return nil, err
	}

	if serr := g.redis.Set(respKey, body, g.config.ResponseTTL); serr != nil {
		logger.Warn("failed to snapshot response", "key", key, "error", serr)
	}
	if derr := g.redis.Del(claimKey); derr != nil {
		logger.Warn("failed to release idempotency claim", "key", key, "error", derr)
	}

	return &Result{Body: body}, nil
}

// waitForSnapshot polls for the claim holder's snapshot. If the holder
// releases the claim without one (its operation failed), this caller takes
// over the claim and runs the operation itself.
func (g *Guard) waitForSnapshot(ctx context.Context, key, respKey, claimKey string, op func(ctx context.Context) ([]byte, error)) (*Result, error) {
	deadline := time.Now().Add(g.config.WaitTimeout)
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if body, err := g.redis.Get(respKey); err == nil {
			logger.Debug("replaying concurrent winner's response", "key", key)
			return &Result{Body: body, Replayed: true}, nil
		}

		exists, err := g.redis.Exist(claimKey)
		if err == nil && exists == 0 {
			claimValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
			acquired, err := g.redis.SetNX(claimKey, claimValue, g.config.ClaimTTL)
			if err == nil && acquired {
				return g.run(ctx, key, respKey, claimKey, op)
			}
		}

		if time.Now().After(deadline) {
			logger.Warn("gave up waiting for in-flight request", "key", key, "timeout", g.config.WaitTimeout)
			return nil, ErrInFlight
		}
	}
}
