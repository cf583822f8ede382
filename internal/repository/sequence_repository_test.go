package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSequence(t *testing.T) TicketSequence {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTicketSequence(client)
}

func TestTicketSequenceMonotonic(t *testing.T) {
	seq := newTestSequence(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := seq.Next(ctx, 2026)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("Next = %d, want %d", got, want)
		}
	}
}

func TestTicketSequencePerYearIsolation(t *testing.T) {
	seq := newTestSequence(t)
	ctx := context.Background()

	if _, err := seq.Next(ctx, 2026); err != nil {
		t.Fatalf("Next 2026: %v", err)
	}
	got, err := seq.Next(ctx, 2027)
	if err != nil {
		t.Fatalf("Next 2027: %v", err)
	}
	if got != 1 {
		t.Errorf("new year should restart at 1, got %d", got)
	}
}

func TestTicketSequenceConcurrentUniqueness(t *testing.T) {
	seq := newTestSequence(t)
	ctx := context.Background()

	const workers = 50
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := seq.Next(ctx, 2026)
			if err != nil {
				t.Error(err)
				return
			}
			results <- val
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers)
	for val := range results {
		if seen[val] {
			t.Fatalf("duplicate sequence value %d", val)
		}
		seen[val] = true
	}
	if len(seen) != workers {
		t.Errorf("unique values = %d, want %d", len(seen), workers)
	}

	numbers := make(map[string]bool, workers)
	for val := range seen {
		numbers[fmt.Sprintf("TKT-2026-%05d", val)] = true
	}
	if len(numbers) != workers {
		t.Errorf("formatted numbers collide: %d unique", len(numbers))
	}
}
