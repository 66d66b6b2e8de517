package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemory_GetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatalf("expected absent key")
	}
	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := m.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("Get = (%q, %v, %v); want (v, true, nil)", v, found, err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, _ := m.Get(ctx, "k"); !found {
		t.Fatalf("key should be visible before expiry")
	}
	time.Sleep(40 * time.Millisecond)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatalf("key should have expired")
	}

	// An expired key is claimable again via SetNX.
	ok, err := m.SetNX(ctx, "k", "v2", 0)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = (%v, %v); want (true, nil)", ok, err)
	}
}

func TestMemory_SetNX_SingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.SetNX(ctx, "token", "1", time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d; want exactly 1", winners)
	}
}

func TestMemory_WindowReserve_Cap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	const max = 5
	for i := 0; i < max; i++ {
		count, recorded, err := m.WindowReserve(ctx, "w", now.Add(time.Duration(i)*time.Millisecond), time.Minute, max)
		if err != nil || !recorded {
			t.Fatalf("reserve %d = (%d, %v, %v); want recorded", i, count, recorded, err)
		}
		if count != i {
			t.Fatalf("reserve %d: count = %d; want %d", i, count, i)
		}
	}

	count, recorded, err := m.WindowReserve(ctx, "w", now.Add(10*time.Millisecond), time.Minute, max)
	if err != nil {
		t.Fatalf("reserve over cap: %v", err)
	}
	if recorded || count != max {
		t.Fatalf("over cap = (%d, %v); want (%d, false)", count, recorded, max)
	}
}

func TestMemory_WindowReserve_SlidesForward(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	// Fill the cap at t0.
	for i := 0; i < 3; i++ {
		if _, recorded, _ := m.WindowReserve(ctx, "w", base, time.Second, 3); !recorded {
			t.Fatalf("initial fill rejected at %d", i)
		}
	}
	if _, recorded, _ := m.WindowReserve(ctx, "w", base, time.Second, 3); recorded {
		t.Fatalf("cap not enforced")
	}

	// Past the window, the old entries no longer count.
	later := base.Add(2 * time.Second)
	count, recorded, _ := m.WindowReserve(ctx, "w", later, time.Second, 3)
	if !recorded || count != 0 {
		t.Fatalf("after window = (%d, %v); want (0, true)", count, recorded)
	}
}

func TestMemory_WindowReserve_ConcurrentNeverOvershoots(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	const max = 10
	const attempts = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	recordedN := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, recorded, err := m.WindowReserve(ctx, "w", now.Add(time.Duration(i)), time.Minute, max)
			if err != nil {
				t.Errorf("WindowReserve: %v", err)
				return
			}
			if recorded {
				mu.Lock()
				recordedN++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if recordedN != max {
		t.Fatalf("recorded = %d; want exactly %d", recordedN, max)
	}
}

func TestMemory_Queue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.QueuePush(ctx, "q", fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("QueuePush: %v", err)
		}
	}

	vals, err := m.QueueDrain(ctx, "q")
	if err != nil {
		t.Fatalf("QueueDrain: %v", err)
	}
	if len(vals) != 3 || vals[0] != "v0" || vals[2] != "v2" {
		t.Fatalf("drained = %v; want [v0 v1 v2]", vals)
	}

	// Drain empties the queue.
	vals, err = m.QueueDrain(ctx, "q")
	if err != nil || len(vals) != 0 {
		t.Fatalf("second drain = (%v, %v); want empty", vals, err)
	}
}

func TestMemory_PingAndName(t *testing.T) {
	m := NewMemory()
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.Name() != "memory" {
		t.Fatalf("Name = %q", m.Name())
	}
}
