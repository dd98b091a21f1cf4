package api

import (
	"testing"
	"time"
)

func TestHubBroadcastDropsStalledConnection(t *testing.T) {
	h := NewHub()
	go h.Run()

	healthy := &Connection{id: "healthy", send: make(chan []byte, 1), hub: h}
	// Unbuffered and never read: the broadcast cannot be delivered.
	stalled := &Connection{id: "stalled", send: make(chan []byte), hub: h}

	// The register channel is unbuffered, so both connections are in the
	// map once these sends return.
	h.register <- healthy
	h.register <- stalled

	h.Broadcast([]byte(`{"type":"box_deleted","data":{}}`))

	select {
	case msg := <-healthy.send:
		if len(msg) == 0 {
			t.Error("healthy connection received an empty broadcast")
		}
	case <-time.After(time.Second):
		t.Fatal("healthy connection never received the broadcast")
	}

	// Dropping a stalled connection closes its send channel.
	select {
	case _, ok := <-stalled.send:
		if ok {
			t.Error("stalled connection received the broadcast instead of being dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("stalled connection was not dropped")
	}
}
