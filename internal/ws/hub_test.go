package ws

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"echohub/internal/models"
	"echohub/internal/presence"
)

func recvEvent(t *testing.T, ch chan models.ServerEvent) models.ServerEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return ev
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return models.ServerEvent{}
}

func TestHub_JoinAnnouncesPresence(t *testing.T) {
	h := NewHub(presence.NewRegistry())

	_, chA := h.Join("alice")

	ev := recvEvent(t, chA)
	if ev.Type != models.ServerEventTypePresenceChanged {
		t.Fatalf("event type = %q, want presenceChanged", ev.Type)
	}
	if !reflect.DeepEqual(ev.Online, []string{"alice"}) {
		t.Errorf("Online = %v, want [alice]", ev.Online)
	}

	_, chB := h.Join("bob")

	// Both connected clients get the full updated set.
	for name, ch := range map[string]chan models.ServerEvent{"alice": chA, "bob": chB} {
		ev := recvEvent(t, ch)
		if !reflect.DeepEqual(ev.Online, []string{"alice", "bob"}) {
			t.Errorf("%s saw Online = %v, want [alice bob]", name, ev.Online)
		}
	}
}

func TestHub_LeaveAnnouncesPresence(t *testing.T) {
	h := NewHub(presence.NewRegistry())

	connA, chA := h.Join("alice")
	_ = recvEvent(t, chA) // own join

	_, chB := h.Join("bob")
	_ = recvEvent(t, chA) // bob's join
	_ = recvEvent(t, chB)

	h.Leave("alice", connA)

	ev := recvEvent(t, chB)
	if !reflect.DeepEqual(ev.Online, []string{"bob"}) {
		t.Errorf("after leave bob saw Online = %v, want [bob]", ev.Online)
	}

	// Alice's channel was closed by the unregister.
	select {
	case _, ok := <-chA:
		if ok {
			t.Error("expected alice's channel to be closed")
		}
	case <-time.After(1 * time.Second):
		t.Error("alice's channel not closed after Leave")
	}
}

func TestHub_StaleLeaveKeepsNewerConnection(t *testing.T) {
	h := NewHub(presence.NewRegistry())

	_, chB := h.Join("bob")
	connOld, chOld := h.Join("alice")
	drain(chB)

	// Alice re-handshakes before the old connection is cleaned up.
	connNew, chNew := h.Join("alice")
	drain(chB)
	drain(chNew)

	// The overwritten connection's channel is closed (after any buffered
	// announcements drain).
	closed := false
	for !closed {
		select {
		case _, ok := <-chOld:
			closed = !ok
		case <-time.After(1 * time.Second):
			t.Fatal("old connection channel not closed after overwrite")
		}
	}

	// Stale disconnect: must not remove the new registration and must not
	// re-announce.
	h.Leave("alice", connOld)
	select {
	case ev := <-chB:
		t.Errorf("stale leave broadcast an announcement: %+v", ev)
	default:
	}

	if connID, ok := h.registry.Lookup("alice"); !ok || connID != connNew {
		t.Errorf("Lookup(alice) = %q, %v; want %q, true", connID, ok, connNew)
	}

	h.Leave("alice", connNew)
	ev := recvEvent(t, chB)
	if !reflect.DeepEqual(ev.Online, []string{"bob"}) {
		t.Errorf("after real leave Online = %v, want [bob]", ev.Online)
	}
}

func TestHub_DispatchDirect(t *testing.T) {
	h := NewHub(presence.NewRegistry())

	_, chA := h.Join("alice")
	_, chB := h.Join("bob")
	drain(chA)
	drain(chB)

	payload := json.RawMessage(`{"text":"psst"}`)
	h.DispatchDirect("alice", models.ClientEvent{
		Type:         models.ClientEventTypeSendDirect,
		TargetUserID: "bob",
		Payload:      payload,
	})

	ev := recvEvent(t, chB)
	if ev.Type != models.ServerEventTypeDirect {
		t.Errorf("event type = %q, want direct", ev.Type)
	}
	if ev.SenderID != "alice" {
		t.Errorf("SenderID = %q, want alice", ev.SenderID)
	}
	if string(ev.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", ev.Payload, payload)
	}

	// Target offline: silently dropped, nothing surfaces to the sender.
	h.DispatchDirect("alice", models.ClientEvent{
		Type:         models.ClientEventTypeSendDirect,
		TargetUserID: "carol",
		Payload:      payload,
	})
	select {
	case ev := <-chA:
		t.Errorf("sender received unexpected event: %+v", ev)
	default:
	}
}

// drain empties buffered presence announcements between test steps.
func drain(ch chan models.ServerEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
