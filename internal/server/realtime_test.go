package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-1",
		EventType: RealtimeEventRecordChanged,
		Entity:    ipdata.EntityRef{Type: "disclosure", ID: "d-1"},
		Action:    actionCreated,
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventRecordChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventRecordChanged, received.EventType)
		}
		if received.Entity.ID != "d-1" || received.Action != actionCreated {
			t.Fatalf("unexpected message %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-3",
		EventType: RealtimeEventRecordChanged,
		Entity:    ipdata.EntityRef{Type: "filing", ID: "f-1"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.UserID != "user-3" {
			t.Fatalf("expected user-3, received %s", msg.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestRealtimeDispatcherClosesStreamOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after cancellation")
	}
	cleanup()

	dispatcher.Publish(RealtimeMessage{UserID: "user-1", EventType: RealtimeEventRecordChanged})
}

func TestRealtimeDispatcherRejectsAnonymousSubscriber(t *testing.T) {
	stream, cleanup := NewRealtimeDispatcher().Subscribe(context.Background(), "")
	defer cleanup()
	if _, open := <-stream; open {
		t.Fatalf("expected closed stream for anonymous subscriber")
	}
}
