package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
)

const (
	keyDeductAccount = "credits:deduct:account:%s"
	keyCommandLock   = "billing:command:lock:%s"
)

// DeductLimiter throttles credit deductions per account. A nil limiter allows everything.
type DeductLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewDeductLimiter(cfg config.Config, client *redis.Client) (*DeductLimiter, error) {
	if client == nil {
		return nil, nil
	}
	limitCfg := cfg.RateLimit
	if limitCfg.DeductRate <= 0 || limitCfg.DeductBurst <= 0 {
		return nil, errors.New("deduct rate limit must be positive")
	}
	return &DeductLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.DeductRate,
		burst:  limitCfg.DeductBurst,
	}, nil
}

func (l *DeductLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *DeductLimiter) Allow(ctx context.Context, accountID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDeductAccount, strings.TrimSpace(accountID)), l.rate, l.burst)
}

// CommandLimiter lets one billing command run per account at a time.
type CommandLimiter struct {
	locker *Locker
	ttl    time.Duration
}

func NewCommandLimiter(cfg config.Config, client *redis.Client) (*CommandLimiter, error) {
	if client == nil {
		return nil, nil
	}
	ttl := time.Duration(cfg.RateLimit.CommandLockTTLSeconds) * time.Second
	if ttl <= 0 {
		return nil, errors.New("command lock ttl must be positive")
	}
	return &CommandLimiter{locker: NewLocker(client), ttl: ttl}, nil
}

func (l *CommandLimiter) Enabled() bool {
	return l != nil && l.locker != nil
}

// Acquire returns ok=false when another command holds the account. The
// release func is always safe to call.
func (l *CommandLimiter) Acquire(ctx context.Context, accountID string) (func(context.Context) error, bool, error) {
	noop := func(context.Context) error { return nil }
	if !l.Enabled() {
		return noop, true, nil
	}
	key := fmt.Sprintf(keyCommandLock, strings.TrimSpace(accountID))
	token, ok, err := l.locker.TryLock(ctx, key, l.ttl)
	if err != nil || !ok {
		return noop, false, err
	}
	return func(ctx context.Context) error {
		return l.locker.Release(ctx, key, token)
	}, true, nil
}
