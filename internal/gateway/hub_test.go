package gateway

import (
	"testing"
)

func TestHubDeliversToEveryConnectionOfUser(t *testing.T) {
	hub := NewHub()
	userID := "user-1"
	phone := NewClient(nil, userID)
	laptop := NewClient(nil, userID)
	hub.addClient(phone)
	hub.addClient(laptop)

	if !hub.SendToUser(userID, []byte("hello")) {
		t.Fatal("expected delivery to a connected user")
	}
	for _, c := range []*Client{phone, laptop} {
		select {
		case msg := <-c.Send:
			if string(msg) != "hello" {
				t.Fatalf("unexpected payload %q", msg)
			}
		default:
			t.Fatalf("connection %s received nothing", c.ID)
		}
	}
}

func TestHubUserStaysReachableUntilLastConnectionDrops(t *testing.T) {
	hub := NewHub()
	userID := "user-1"
	phone := NewClient(nil, userID)
	laptop := NewClient(nil, userID)
	hub.addClient(phone)
	hub.addClient(laptop)

	hub.removeClient(phone)
	if got := hub.CountForUser(userID); got != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", got)
	}
	if !hub.SendToUser(userID, []byte("still here")) {
		t.Fatal("expected delivery while one connection remains")
	}

	hub.removeClient(laptop)
	if got := hub.CountForUser(userID); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
	if hub.SendToUser(userID, []byte("gone")) {
		t.Fatal("expected no delivery after the last connection dropped")
	}
}

func TestHubSendToUnknownUserIsFalse(t *testing.T) {
	hub := NewHub()
	if hub.SendToUser("nobody", []byte("x")) {
		t.Fatal("expected false for an unknown user")
	}
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := NewClient(nil, "user-1")
	hub.addClient(c)
	hub.removeClient(c)
	hub.removeClient(c)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected empty hub, got %d clients", got)
	}
}
