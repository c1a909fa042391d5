package realtime

// Emitter adapts the hub to the event sink interfaces exposed by the
// domain services.
type Emitter struct {
	hub *Hub
}

// NewEmitter wraps a hub for use as a service-level event sink.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{hub: hub}
}

// OrderEvent broadcasts an order lifecycle event to connected clients.
func (e *Emitter) OrderEvent(eventType, orderID string, data map[string]interface{}) {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["orderId"] = orderID
	e.hub.Broadcast(&Event{Type: EventType(eventType), Data: payload})
}
