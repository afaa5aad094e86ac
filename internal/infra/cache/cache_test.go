package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_SetNX(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	if !c.SetNX("k", 1, time.Minute) {
		t.Fatal("expected first SetNX to win")
	}
	if c.SetNX("k", 2, time.Minute) {
		t.Fatal("expected second SetNX to lose")
	}
	if v, _ := c.Get("k"); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
}

func TestCache_SetNXAfterExpiry(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	c.SetNX("k", 1, 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if !c.SetNX("k", 2, time.Minute) {
		t.Fatal("expected SetNX to succeed once the key expired")
	}
}

func TestCache_SetNXConcurrent(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.SetNX("race", i, time.Minute) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestCancelMarks(t *testing.T) {
	marks := cache.NewCancelMarks(time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	if err := marks.Mark(ctx, 7, 100, at); err != nil {
		t.Fatal(err)
	}
	if err := marks.Mark(ctx, 7, 101, at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	got, err := marks.Marks(ctx, 7, 8)
	if err != nil {
		t.Fatal(err)
	}
	if ts, ok := got.CancelledAt(7, 100); !ok || !ts.Equal(at) {
		t.Errorf("expected mark for esim 100, got %v %v", ts, ok)
	}
	if _, ok := got.CancelledAt(7, 101); !ok {
		t.Error("expected mark for esim 101")
	}
	if _, ok := got.CancelledAt(8, 100); ok {
		t.Error("expected no mark for employee 8")
	}
}

func TestIdempotencyKeys(t *testing.T) {
	keys := cache.NewIdempotencyKeys(time.Minute)
	ctx := context.Background()

	ok, _ := keys.Reserve(ctx, "assign:abc", time.Minute)
	if !ok {
		t.Fatal("expected reservation")
	}
	ok, _ = keys.Reserve(ctx, "assign:abc", time.Minute)
	if ok {
		t.Fatal("expected duplicate reservation to fail")
	}
	_ = keys.Release(ctx, "assign:abc")
	ok, _ = keys.Reserve(ctx, "assign:abc", time.Minute)
	if !ok {
		t.Fatal("expected reservation after release")
	}
}
