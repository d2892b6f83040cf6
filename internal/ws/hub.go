package ws

import (
	"echohub/internal/models"
	"echohub/internal/presence"

	"github.com/google/uuid"
)

// Buffer for the per-connection outbound channel. Events beyond this are
// dropped rather than blocking the registry lock on a slow client.
const sendBuffer = 100

// Hub is the gateway's view of connected users. It owns no connection
// lifecycle itself: every connection Joins on handshake and Leaves when its
// transport dies, and the Hub turns those into registry mutations plus
// presence announcements.
type Hub struct {
	registry *presence.Registry
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{registry: registry}
}

// Join registers a new connection for userID and announces the updated
// online set. The returned channel carries every event pushed to this
// connection; it is closed when the connection is unregistered or
// overwritten by a newer handshake for the same user.
func (h *Hub) Join(userID string) (string, chan models.ServerEvent) {
	connID := uuid.NewString()
	ch := make(chan models.ServerEvent, sendBuffer)
	h.registry.Register(userID, connID, ch)
	h.announce()
	return connID, ch
}

// Leave removes the registration if connID is still the current connection
// for userID. A stale disconnect (the user already re-registered on a newer
// connection) removes nothing and announces nothing.
func (h *Hub) Leave(userID, connID string) {
	if h.registry.Unregister(userID, connID) {
		h.announce()
	}
}

// DispatchDirect routes a client-initiated sendDirect event to the target's
// connection. The push bypasses persistence entirely; if the target is not
// registered the event is silently dropped.
func (h *Hub) DispatchDirect(senderID string, ev models.ClientEvent) {
	if ev.TargetUserID == "" {
		return
	}
	h.registry.Push(ev.TargetUserID, models.ServerEvent{
		Type:     models.ServerEventTypeDirect,
		SenderID: senderID,
		Payload:  ev.Payload,
	})
}

// announce broadcasts the full current online set to every connected
// client. No deltas, no debouncing: one full broadcast per registry
// mutation.
func (h *Hub) announce() {
	h.registry.BroadcastAll(models.ServerEvent{
		Type:   models.ServerEventTypePresenceChanged,
		Online: h.registry.Snapshot(),
	})
}
