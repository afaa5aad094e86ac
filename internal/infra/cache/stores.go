package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// IdempotencyKeys implements port.IdempotencyStore for a single instance.
type IdempotencyKeys struct {
	c *InMemory[struct{}]
}

// NewIdempotencyKeys creates an in-process idempotency key store.
func NewIdempotencyKeys(ttl time.Duration) *IdempotencyKeys {
	return &IdempotencyKeys{c: New[struct{}](ttl)}
}

func (k *IdempotencyKeys) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return k.c.SetNX(key, struct{}{}, ttl), nil
}

func (k *IdempotencyKeys) Release(_ context.Context, key string) error {
	k.c.Delete(key)
	return nil
}

// CancelMarks implements port.CancellationTracker for a single instance. Marks are
// grouped per employee and the whole group expires together.
type CancelMarks struct {
	c *InMemory[map[int64]time.Time]
}

// NewCancelMarks creates an in-process recently-cancelled tracker.
func NewCancelMarks(ttl time.Duration) *CancelMarks {
	return &CancelMarks{c: New[map[int64]time.Time](ttl)}
}

func (m *CancelMarks) Mark(_ context.Context, employeeID, esimID int64, at time.Time) error {
	m.c.Update(strconv.FormatInt(employeeID, 10), func(current map[int64]time.Time, _ bool) map[int64]time.Time {
		next := make(map[int64]time.Time, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[esimID] = at
		return next
	})
	return nil
}

func (m *CancelMarks) Marks(_ context.Context, employeeIDs ...int64) (domain.CancelMarks, error) {
	out := domain.CancelMarks{}
	for _, id := range employeeIDs {
		group, ok := m.c.Get(strconv.FormatInt(id, 10))
		if !ok {
			continue
		}
		for esimID, at := range group {
			out.Add(id, esimID, at)
		}
	}
	return out, nil
}
