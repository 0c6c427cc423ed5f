package integrations

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueSerializesTasks(t *testing.T) {
	q := NewQueue(context.Background(), nil)

	var mu sync.Mutex
	var active, maxActive, runs int

	for i := 0; i < 10; i++ {
		q.Submit(func(ctx context.Context) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			runs++
			mu.Unlock()
		})
	}
	q.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent tasks = %d", maxActive)
	}
	if runs != 10 {
		t.Errorf("runs = %d", runs)
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(context.Background(), nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	q.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestQueueDropsTasksAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := NewQueue(ctx, nil)

	ran := false
	q.Submit(func(ctx context.Context) { ran = true })
	q.Wait()

	if ran {
		t.Error("task ran after queue context was cancelled")
	}
}

func TestQueueReportsDepth(t *testing.T) {
	q := NewQueue(context.Background(), nil)
	var mu sync.Mutex
	var depths []int
	q.OnDepth(func(d int) {
		mu.Lock()
		depths = append(depths, d)
		mu.Unlock()
	})

	release := make(chan struct{})
	q.Submit(func(ctx context.Context) { <-release })
	q.Submit(func(ctx context.Context) {})
	close(release)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(depths) == 0 {
		t.Fatal("no depth reports")
	}
	if depths[len(depths)-1] != 0 {
		t.Errorf("final depth = %d", depths[len(depths)-1])
	}
}
