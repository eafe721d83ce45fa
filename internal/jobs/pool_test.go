package jobs

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"docify/internal/domain"
	"docify/internal/infra"
)

func TestPoolSubmitNeverBlocks(t *testing.T) {
	p := NewPool(1, 1, infra.NopLogger())
	release := make(chan struct{})
	running := make(chan struct{})

	if err := p.Submit("a", func(context.Context) { close(running); <-release }); err != nil {
		t.Fatalf("Submit(a) error = %v", err)
	}
	<-running
	if err := p.Submit("b", func(context.Context) {}); err != nil {
		t.Fatalf("Submit(b) error = %v", err)
	}

	start := time.Now()
	if err := p.Submit("c", func(context.Context) {}); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("Submit(c) error = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("Submit blocked on a full queue")
	}
	close(release)
	if _, err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestPoolShutdownReportsQueuedTasks(t *testing.T) {
	p := NewPool(1, 5, infra.NopLogger())
	running := make(chan struct{})

	if err := p.Submit("busy", func(ctx context.Context) { close(running); <-ctx.Done() }); err != nil {
		t.Fatal(err)
	}
	<-running
	for _, id := range []string{"q1", "q2"} {
		if err := p.Submit(id, func(context.Context) { t.Errorf("queued task ran after shutdown") }); err != nil {
			t.Fatal(err)
		}
	}

	dropped, err := p.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	sort.Strings(dropped)
	if len(dropped) != 2 || dropped[0] != "q1" || dropped[1] != "q2" {
		t.Fatalf("dropped = %v, want [q1 q2]", dropped)
	}
	if err := p.Submit("late", func(context.Context) {}); err == nil {
		t.Fatalf("Submit() after shutdown succeeded")
	}
}
