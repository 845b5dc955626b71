package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("delivery already processed")
	ErrLockAcquireFailed = errors.New("delivery is being processed by another worker")
	ErrGuardUnavailable  = errors.New("idempotency store unavailable")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "lock:",
		ProcessedKeyPrefix: "processed:",
	}
}

// IdempotencyService collapses duplicate deliveries of the same work item. A
// short lock keyed by resource serialises concurrent deliveries and a long-lived
// marker keyed by fingerprint remembers the ones already done.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	Resource     string
	Fingerprint  string
	lockAcquired bool
}

// AcquireProcessingLock returns ErrAlreadyProcessed when fingerprint was marked
// done, ErrLockAcquireFailed when another worker holds resource, and an error
// wrapping ErrGuardUnavailable when redis cannot answer.
func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, resource, fingerprint string) (*ProcessingContext, error) {
	processedKey := s.config.ProcessedKeyPrefix + fingerprint
	exists, err := s.redis.Exist(ctx, processedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if exists {
		logger.Debug("delivery already processed, skipping", "resource", resource, "fingerprint", fingerprint)
		return nil, ErrAlreadyProcessed
	}

	lockKey := s.config.LockKeyPrefix + resource
	lockValue := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))

	acquired, err := s.redis.SetNX(ctx, lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if !acquired {
		logger.Info("lock already held by another worker", "resource", resource)
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("processing lock acquired", "resource", resource, "lock_ttl", s.config.LockTTL)

	return &ProcessingContext{
		Resource:     resource,
		Fingerprint:  fingerprint,
		lockAcquired: true,
	}, nil
}

// MarkSuccess stores the processed marker and releases the lock.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	processedKey := s.config.ProcessedKeyPrefix + pc.Fingerprint
	if err := s.redis.Set(ctx, processedKey, []byte("1"), s.config.ProcessedTTL); err != nil {
		logger.Error("failed to mark delivery as processed", "fingerprint", pc.Fingerprint, "error", err)
		_ = s.ReleaseLock(ctx, pc)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}
	return s.ReleaseLock(ctx, pc)
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.Resource
	if err := s.redis.Del(ctx, lockKey); err != nil {
		logger.Warn("failed to release lock", "resource", pc.Resource, "error", err)
		return err
	}

	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	return s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+fingerprint)
}
