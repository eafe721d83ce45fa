package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"

	"docify/internal/domain"
	"docify/internal/infra"
)

type recorder struct {
	events []domain.JobEvent
}

func (r *recorder) Publish(ev domain.JobEvent) { r.events = append(r.events, ev) }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, nil, b}
	f.Publish(domain.JobEvent{Type: domain.EventJobCreated, JobID: "j1"})

	if len(a.events) != 1 || len(b.events) != 1 || b.events[0].JobID != "j1" {
		t.Fatalf("fanout delivered a=%v b=%v", a.events, b.events)
	}
}

func TestPublishingMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := publishing(domain.JobEvent{
		Type:      domain.EventJobProgress,
		JobID:     "j1",
		Status:    domain.JobStatusProcessing,
		Progress:  52,
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("publishing() error = %v", err)
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("publishing() headers = %q %d", msg.ContentType, msg.DeliveryMode)
	}
	if msg.Type != "job_progress" || msg.MessageId != "j1:job_progress:52" || !msg.Timestamp.Equal(at) {
		t.Fatalf("publishing() meta = %q %q %v", msg.Type, msg.MessageId, msg.Timestamp)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded["jobId"] != "j1" || decoded["status"] != "processing" {
		t.Fatalf("body = %s", msg.Body)
	}
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(infra.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", hub.Clients())
	}

	hub.Publish(domain.JobEvent{Type: domain.EventJobUpdated, JobID: "j9", Status: domain.JobStatusCompleted, Progress: 100})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.JobEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.JobID != "j9" || got.Status != domain.JobStatusCompleted || got.Progress != 100 {
		t.Fatalf("received %+v", got)
	}
}
