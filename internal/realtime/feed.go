// Package realtime carries roster changes in and out of the service: the Postgres change feed
// on the way in, websocket clients on the way out.
package realtime

import "github.com/noah-isme/pickup-roster-api/internal/models"

// MessageKind distinguishes feed messages.
type MessageKind int

const (
	// MessageReady is sent once the subscription is live.
	MessageReady MessageKind = iota
	// MessageChange carries one row-level change.
	MessageChange
	// MessageReconnect is sent after the connection was lost and re-established; events may have been missed.
	MessageReconnect
)

func (k MessageKind) String() string {
	switch k {
	case MessageReady:
		return "ready"
	case MessageChange:
		return "change"
	case MessageReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Message is one item delivered by a Subscription.
type Message struct {
	Kind  MessageKind
	Event models.ChangeEvent
}

// Subscription streams change messages for one roster date until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}
