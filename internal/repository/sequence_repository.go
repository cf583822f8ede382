package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TicketSequence hands out the per-year ticket counter. Next must be atomic
// under concurrent creation; numbers within one year are unique and strictly
// increasing.
type TicketSequence interface {
	Next(ctx context.Context, year int) (int64, error)
}

type redisSequence struct {
	client *redis.Client
	prefix string
}

// NewTicketSequence builds a Redis-backed sequence using INCR on a
// per-year key.
func NewTicketSequence(client *redis.Client) TicketSequence {
	return &redisSequence{client: client, prefix: "ticket_seq"}
}

func (s *redisSequence) Next(ctx context.Context, year int) (int64, error) {
	key := fmt.Sprintf("%s:%d", s.prefix, year)
	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ticket sequence incr: %w", err)
	}
	return val, nil
}
