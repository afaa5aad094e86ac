package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSyncer struct {
	calls  atomic.Int32
	limits chan int
	err    error
}

func (s *countingSyncer) SyncAll(_ context.Context, limit int) (*domain.SyncResult, error) {
	s.calls.Add(1)
	select {
	case s.limits <- limit:
	default:
	}
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SyncResult{Checked: 2, Updated: 1}, nil
}

func TestRunOnce(t *testing.T) {
	s := &countingSyncer{limits: make(chan int, 1)}
	w := worker.NewSyncWorker(s, time.Minute, 50, zap.NewNop())

	res := w.RunOnce(context.Background())
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 50, <-s.limits)
}

func TestRunOnce_Error(t *testing.T) {
	s := &countingSyncer{limits: make(chan int, 1), err: errors.New("db down")}
	w := worker.NewSyncWorker(s, time.Minute, 50, zap.NewNop())

	assert.Nil(t, w.RunOnce(context.Background()))
}

func TestStart_TicksUntilCancelled(t *testing.T) {
	s := &countingSyncer{limits: make(chan int, 1)}
	w := worker.NewSyncWorker(s, 10*time.Millisecond, 5, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	select {
	case limit := <-s.limits:
		assert.Equal(t, 5, limit)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never ran a sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStart_DisabledReturnsImmediately(t *testing.T) {
	s := &countingSyncer{}
	w := worker.NewSyncWorker(s, 0, 5, zap.NewNop())

	w.Start(context.Background())
	assert.Equal(t, int32(0), s.calls.Load())
}
