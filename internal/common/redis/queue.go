package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// DelayQueue is a sorted-set backed queue of ids scored by due time.
// Pops claim members with ZREM so concurrent pollers never get the same id.
type DelayQueue struct {
	client *Client
	key    string
}

func NewDelayQueue(client *Client, key string) *DelayQueue {
	return &DelayQueue{client: client, key: key}
}

func (q *DelayQueue) Push(ctx context.Context, id string, due time.Time) error {
	err := q.client.ZAdd(ctx, q.key, &goredis.Z{
		Score:  float64(due.UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", id, err)
	}
	return nil
}

func (q *DelayQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due items: %w", err)
	}

	claimed := make([]string, 0, len(members))
	for _, m := range members {
		n, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim %s: %w", m, err)
		}
		if n == 1 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

func (q *DelayQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
