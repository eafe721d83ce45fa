package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docify/internal/domain"
	"docify/internal/infra"
)

type fakeBroker struct {
	mu       sync.Mutex
	dials    int
	failNext int
	sessions []*fakeSession
}

type fakeSession struct {
	mu     sync.Mutex
	ids    []string
	closed chan *amqp.Error
}

func (b *fakeBroker) connect() (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failNext > 0 {
		b.failNext--
		return nil, errors.New("connection refused")
	}
	fs := &fakeSession{closed: make(chan *amqp.Error, 1)}
	b.sessions = append(b.sessions, fs)
	return &session{
		publish: func(_ context.Context, msg amqp.Publishing) error {
			fs.mu.Lock()
			fs.ids = append(fs.ids, msg.MessageId)
			fs.mu.Unlock()
			return nil
		},
		closed: fs.closed,
		close:  func() error { return nil },
	}, nil
}

func (b *fakeBroker) session(i int) *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.sessions) {
		return nil
	}
	return b.sessions[i]
}

func (s *fakeSession) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAMQPPublishNeverBlocks(t *testing.T) {
	b := &fakeBroker{}
	// No run loop: nothing drains the queue.
	p := newAMQPPublisher(b.connect, 2, infra.NopLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(domain.JobEvent{Type: domain.EventJobUpdated, JobID: "j1", Progress: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	if len(p.pending) != 2 {
		t.Fatalf("queued = %d, want 2", len(p.pending))
	}
}

func TestAMQPPublisherRedialsAfterConnectionLoss(t *testing.T) {
	b := &fakeBroker{}
	p := newAMQPPublisher(b.connect, 8, infra.NopLogger())
	p.redial = time.Millisecond
	first, err := p.connect()
	if err != nil {
		t.Fatal(err)
	}
	go p.run(first)

	p.Publish(domain.JobEvent{Type: domain.EventJobCreated, JobID: "j1"})
	waitUntil(t, "first delivery", func() bool { return len(b.session(0).received()) == 1 })

	b.mu.Lock()
	b.failNext = 2
	b.mu.Unlock()
	b.session(0).closed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}

	waitUntil(t, "redial", func() bool { return b.session(1) != nil })
	p.Publish(domain.JobEvent{Type: domain.EventJobUpdated, JobID: "j1", Progress: 10})
	waitUntil(t, "delivery after redial", func() bool { return len(b.session(1).received()) == 1 })

	if got := b.session(1).received()[0]; got != "j1:job_update:10" {
		t.Fatalf("message id = %q", got)
	}
	b.mu.Lock()
	dials := b.dials
	b.mu.Unlock()
	if dials != 4 {
		t.Fatalf("dials = %d, want 4", dials)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestAMQPCloseFlushesQueue(t *testing.T) {
	b := &fakeBroker{}
	p := newAMQPPublisher(b.connect, 8, infra.NopLogger())
	s, err := p.connect()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p.Publish(domain.JobEvent{Type: domain.EventJobProgress, JobID: "j2", Progress: i})
	}
	go p.run(s)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := b.session(0).received(); len(got) != 3 {
		t.Fatalf("delivered = %v, want 3 messages", got)
	}
	// Publishing after Close only queues and returns.
	p.Publish(domain.JobEvent{Type: domain.EventJobDeleted, JobID: "j2"})
}
