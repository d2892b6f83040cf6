package delivery

import (
	"echohub/internal/models"
	"echohub/internal/presence"
)

// Coordinator pushes freshly persisted messages to the recipient's live
// connection. Delivery is strictly best effort on top of guaranteed
// persistence: the durable store is the source of truth and a missed push
// is never retried, the recipient picks the message up from history on the
// next load or reconnect.
type Coordinator struct {
	registry *presence.Registry
}

func NewCoordinator(registry *presence.Registry) *Coordinator {
	return &Coordinator{registry: registry}
}

// Deliver pushes a messageDelivered event carrying the full message record
// to the recipient, if the recipient currently holds a live connection.
// Returns normally whether or not the recipient was online.
func (c *Coordinator) Deliver(msg models.Message) {
	c.registry.Push(msg.ReceiverID, models.ServerEvent{
		Type:    models.ServerEventTypeMessageDelivered,
		Message: &msg,
	})
}
