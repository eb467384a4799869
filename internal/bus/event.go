package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by prefix, e.g.
// "message." receives every log mutation.
const (
	KindMessageAppended = "message.appended"
	KindMessageDeleted  = "message.deleted"
	KindMessageSendAck  = "message.send_ack"
	KindMessageFailed   = "message.send_failed"
	KindWindowExtended  = "window.extended"
	KindPresenceChanged = "presence.changed"
)
