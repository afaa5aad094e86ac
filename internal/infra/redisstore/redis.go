// Package redisstore keeps idempotency keys and recently-cancelled marks in Redis so
// they are shared by every instance.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyPrefix = "esim:idem:"
	cancelPrefix      = "esim:cancelled:"
)

// Connect parses url, opens a client and checks it answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Pinger reports redis reachability on /healthz.
type Pinger struct {
	Client *redis.Client
}

func (p Pinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// ============================================================
// Idempotency keys
// ============================================================

// IdempotencyKeys implements port.IdempotencyStore with SET NX.
type IdempotencyKeys struct {
	rdb *redis.Client
}

// NewIdempotencyKeys creates a Redis-backed idempotency key store.
func NewIdempotencyKeys(rdb *redis.Client) *IdempotencyKeys {
	return &IdempotencyKeys{rdb: rdb}
}

func (k *IdempotencyKeys) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return k.rdb.SetNX(ctx, idempotencyPrefix+key, 1, ttl).Result()
}

func (k *IdempotencyKeys) Release(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, idempotencyPrefix+key).Err()
}

// ============================================================
// Recently-cancelled marks
// ============================================================

// CancelMarks implements port.CancellationTracker. Each employee owns one hash of
// esimID -> unix millis; the hash expires ttl after its latest mark.
type CancelMarks struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCancelMarks creates a Redis-backed recently-cancelled tracker.
func NewCancelMarks(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CancelMarks {
	return &CancelMarks{rdb: rdb, ttl: ttl, logger: logger}
}

func cancelKey(employeeID int64) string {
	return cancelPrefix + strconv.FormatInt(employeeID, 10)
}

func (m *CancelMarks) Mark(ctx context.Context, employeeID, esimID int64, at time.Time) error {
	key := cancelKey(employeeID)
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, strconv.FormatInt(esimID, 10), at.UnixMilli())
		p.Expire(ctx, key, m.ttl)
		return nil
	})
	return err
}

func (m *CancelMarks) Marks(ctx context.Context, employeeIDs ...int64) (domain.CancelMarks, error) {
	out := domain.CancelMarks{}
	if len(employeeIDs) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(employeeIDs))
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range employeeIDs {
			cmds[i] = p.HGetAll(ctx, cancelKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, cmd := range cmds {
		for field, value := range cmd.Val() {
			esimID, err1 := strconv.ParseInt(field, 10, 64)
			millis, err2 := strconv.ParseInt(value, 10, 64)
			if err1 != nil || err2 != nil {
				m.logger.Warn("redis: malformed cancel mark",
					zap.String("key", cancelKey(employeeIDs[i])),
					zap.String("field", field),
				)
				continue
			}
			out.Add(employeeIDs[i], esimID, time.UnixMilli(millis).UTC())
		}
	}
	return out, nil
}
