package services

import (
	"context"
	"testing"
	"time"

	"github.com/huangang/taskhub/internal/models"
)

func TestSSEHub_NewSSEHub(t *testing.T) {
	hub := NewSSEHub()
	if hub == nil {
		t.Fatal("NewSSEHub should not return nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("new hub should have 0 clients, got %d", hub.ClientCount())
	}
}

func TestSSEHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewSSEHub()

	hub.Subscribe("client1", 1)
	ch := hub.Subscribe("client2", 1)
	if hub.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.Unsubscribe("client2")
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unsubscribe, got %d", hub.ClientCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	hub.Unsubscribe("nonexistent")
	if hub.ClientCount() != 1 {
		t.Errorf("unsubscribing nonexistent should not affect count, got %d", hub.ClientCount())
	}
}

func TestSSEHub_PublishOnlyReachesRecipient(t *testing.T) {
	hub := NewSSEHub()

	laptop := hub.Subscribe("bob-laptop", 7)
	phone := hub.Subscribe("bob-phone", 7)
	other := hub.Subscribe("carol", 8)

	hub.Publish(NotificationEvent{ID: 1, UserID: 7, Type: models.NotifyMemberAdded})

	for name, ch := range map[string]<-chan NotificationEvent{"laptop": laptop, "phone": phone} {
		select {
		case received := <-ch:
			if received.ID != 1 {
				t.Errorf("%s: ID = %d, expected 1", name, received.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: timed out waiting for event", name)
		}
	}

	select {
	case ev := <-other:
		t.Errorf("carol should not receive bob's event, got %+v", ev)
	default:
	}
}

func TestSSEHub_NonBlockingPublish(t *testing.T) {
	hub := NewSSEHub()

	hub.Subscribe("slow_client", 1)

	for i := 0; i < 200; i++ {
		hub.Publish(NotificationEvent{ID: uint(i), UserID: 1})
	}
}

func TestNotify_PushesToHub(t *testing.T) {
	db := openTestDB(t)
	hub := NewSSEHub()
	notify := NewNotificationService(db).WithHub(hub)
	ch := hub.Subscribe("c1", 3)

	pid := uint(9)
	err := notify.Notify(context.Background(), NotificationInput{
		UserID: 3, ProjectID: &pid, Type: models.NotifyInviteReceived, Title: "You're invited",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.ID == 0 {
			t.Error("event should carry the stored notification ID")
		}
		if ev.Title != "You're invited" || ev.ProjectID == nil || *ev.ProjectID != 9 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timed out waiting for event")
	}
}
