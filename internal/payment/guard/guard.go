// Package guard serializes payment confirmation per idempotency key.
package guard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	paymentModels "pipay/internal/payment/models"
	dErrors "pipay/pkg/domain-errors"
)

// Guard runs fn at most once at a time for key.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) (*paymentModels.Receipt, error)) (*paymentModels.Receipt, error)
}

// Local coalesces concurrent confirms of one key inside this process: callers
// that arrive while a confirm is in flight share its outcome.
type Local struct {
	group singleflight.Group
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Do(ctx context.Context, key string, fn func(ctx context.Context) (*paymentModels.Receipt, error)) (*paymentModels.Receipt, error) {
	ch := l.group.DoChan(key, func() (any, error) {
		// detached so one caller's cancellation does not fail the shared work
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared, _ := res.Val.(*paymentModels.Receipt)
		if shared == nil {
			return nil, nil
		}
		receipt := *shared
		return &receipt, nil
	}
}

const lockPrefix = "pipay:confirm:lock:"

// releaseScript deletes the lock only when we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrInProgress is returned when another instance holds the lock past the wait budget.
var ErrInProgress = dErrors.New(dErrors.CodeConflict, "confirmation in progress")

// Redis extends Local across instances with a SET NX PX lock.
type Redis struct {
	client *redis.Client
	local  *Local
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedis creates a distributed guard. ttl bounds how long a crashed holder
// blocks the key; wait bounds how long a caller queues for the lock.
func NewRedis(client *redis.Client, ttl, wait time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, local: NewLocal(), ttl: ttl, wait: wait, logger: logger}
}

func (g *Redis) Do(ctx context.Context, key string, fn func(ctx context.Context) (*paymentModels.Receipt, error)) (*paymentModels.Receipt, error) {
	return g.local.Do(ctx, key, func(ctx context.Context) (*paymentModels.Receipt, error) {
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		lockKey := lockPrefix + key
		if err := g.acquire(ctx, lockKey, token); err != nil {
			return nil, err
		}
		defer g.release(lockKey, token)
		return fn(ctx)
	})
}

func (g *Redis) acquire(ctx context.Context, lockKey, token string) error {
	deadline := time.Now().Add(g.wait)
	backoff := 25 * time.Millisecond
	for {
		ok, err := g.client.SetNX(ctx, lockKey, token, g.ttl).Result()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeServiceUnavailable, "confirmation lock unavailable")
		}
		if ok {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return ErrInProgress
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
}

func (g *Redis) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, g.client, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		g.logger.WarnContext(ctx, "failed to release confirmation lock", "lock", lockKey, "error", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
