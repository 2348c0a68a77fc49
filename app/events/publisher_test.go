package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestPublishAndReceive(t *testing.T) {
	_, client := newTestBroker(t)
	ctx := context.Background()

	sub, err := NewSubscriber(ctx, client, SourceChannel("src-1"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer sub.Close()

	publisher := NewPublisher(client)
	publisher.Publish(ctx, SourceChannel("src-1"), New(TypeNewEntry, "entry-1", map[string]string{"source_id": "src-1"}))

	select {
	case event := <-sub.Events():
		if event.Type != TypeNewEntry {
			t.Errorf("Expected event type new_entry, got: %s", event.Type)
		}
		if event.Channel != "source:src-1" {
			t.Errorf("Expected channel source:src-1, got: %s", event.Channel)
		}
		if event.EntityID != "entry-1" {
			t.Errorf("Expected entity entry-1, got: %s", event.EntityID)
		}
		if event.Payload["source_id"] != "src-1" {
			t.Errorf("Expected source_id payload, got: %v", event.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestPublishOnlyReachesSubscribedChannels(t *testing.T) {
	_, client := newTestBroker(t)
	ctx := context.Background()

	sub, err := NewSubscriber(ctx, client, SourceChannel("src-1"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer sub.Close()

	publisher := NewPublisher(client)
	publisher.Publish(ctx, SourceChannel("src-2"), New(TypeNewEntry, "entry-other", nil))
	publisher.Publish(ctx, SourceChannel("src-1"), New(TypeNewEntry, "entry-mine", nil))

	select {
	case event := <-sub.Events():
		if event.EntityID != "entry-mine" {
			t.Errorf("Expected only the subscribed channel's event, got: %s", event.EntityID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestSubscribeAddsChannelsLive(t *testing.T) {
	_, client := newTestBroker(t)
	ctx := context.Background()

	sub, err := NewSubscriber(ctx, client, UserChannel("user-1"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer sub.Close()

	if err := sub.Subscribe(ctx, SourceChannel("src-new")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	publisher := NewPublisher(client)
	publisher.Publish(ctx, SourceChannel("src-new"), New(TypeNewEntry, "entry-1", nil))

	select {
	case event := <-sub.Events():
		if event.Channel != "source:src-new" {
			t.Errorf("Expected event on the newly added channel, got: %s", event.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestPublishSwallowsBrokerFailure(t *testing.T) {
	mr, client := newTestBroker(t)
	mr.Close()

	publisher := NewPublisher(client)
	// Must not panic or block; failures are logged and swallowed.
	publisher.Publish(context.Background(), SourceChannel("src-1"), New(TypeNewEntry, "entry-1", nil))
}

func TestEventEncodeDecode(t *testing.T) {
	event := New(TypeEntryUpdated, "entry-9", map[string]string{"read": "true"})
	event.Channel = UserChannel("user-3")

	data, err := event.Encode()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if decoded.Type != TypeEntryUpdated || decoded.EntityID != "entry-9" {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
	if decoded.Channel != "user:user-3" {
		t.Errorf("Expected channel user:user-3, got: %s", decoded.Channel)
	}
}
