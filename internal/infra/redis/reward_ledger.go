package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// rewardSink is the downstream rewards call, typically the real points
// service client.
type rewardSink interface {
	AwardPoints(ctx context.Context, kind, idempotencyKey string) error
}

// RewardLedger enforces reward idempotency across instances with a SETNX
// claim per key. Only the claim winner forwards the award downstream, so a
// learner passing the same quiz twice in one period is credited once.
type RewardLedger struct {
	client *redis.Client
	sink   rewardSink
	ttl    time.Duration
}

func NewRewardLedger(client *redis.Client, sink rewardSink, ttl time.Duration) *RewardLedger {
	return &RewardLedger{client: client, sink: sink, ttl: ttl}
}

func (l *RewardLedger) AwardPoints(ctx context.Context, kind, idempotencyKey string) error {
	claimed, err := l.client.SetNX(ctx, l.key(idempotencyKey), kind, l.ttl).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if l.sink == nil {
		return nil
	}
	if err := l.sink.AwardPoints(ctx, kind, idempotencyKey); err != nil {
		// Release the claim so a later pass can retry the award.
		_ = l.client.Del(ctx, l.key(idempotencyKey)).Err()
		return err
	}
	return nil
}

func (l *RewardLedger) key(idempotencyKey string) string {
	return "reward:" + idempotencyKey
}
