package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/emissor/internal/config"
)

const (
	keyEmissionOrg  = "emission:org:%s"
	keyDocumentLock = "emission:lock:%s:%s"
)

// EmissionLimiter throttles emission attempts per organization and holds a
// short lease per document so two concurrent requests for the same document
// do not both reach the gateway. A nil limiter means rate limiting is off.
type EmissionLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	orgRate  float64
	orgBurst int
	lockTTL  time.Duration
}

func NewEmissionLimiter(cfg config.Config) (*EmissionLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.EmissionOrgRate <= 0 || limitCfg.EmissionOrgBurst <= 0 {
		return nil, errors.New("emission org rate limit must be positive")
	}
	if limitCfg.DocumentLockTTLSec <= 0 {
		return nil, errors.New("document lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &EmissionLimiter{
		enabled:  true,
		bucket:   NewTokenBucket(client),
		locker:   NewLocker(client),
		orgRate:  limitCfg.EmissionOrgRate,
		orgBurst: limitCfg.EmissionOrgBurst,
		lockTTL:  time.Duration(limitCfg.DocumentLockTTLSec) * time.Second,
	}, nil
}

func (l *EmissionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EmissionLimiter) AllowOrg(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEmissionOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
}

func (l *EmissionLimiter) TryLockDocument(ctx context.Context, orgID, documentID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyDocumentLock, strings.TrimSpace(orgID), strings.TrimSpace(documentID))
	return l.locker.TryLock(ctx, key, l.lockTTL)
}

func (l *EmissionLimiter) ReleaseDocument(ctx context.Context, orgID, documentID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyDocumentLock, strings.TrimSpace(orgID), strings.TrimSpace(documentID))
	return l.locker.Release(ctx, key, token)
}
