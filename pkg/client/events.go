package client

import (
	"encoding/json"
	"sync"

	"github.com/palbooo/fcm-receiver-go/pkg/register"
)

// EventType represents the type of event emitted by the client
type EventType int

const (
	// EventMessageReceived is emitted with a *MessageEvent for every new message
	EventMessageReceived EventType = iota
	// EventCredentialsChanged is emitted with a *CredentialsChangedEvent
	EventCredentialsChanged
	// EventConnected is emitted with a *ConnectedEvent once the socket is open
	EventConnected
	// EventDisconnected is emitted with a *DisconnectedEvent
	EventDisconnected
	// EventReady is emitted when the server accepted the login
	EventReady
	// EventHeartbeat is emitted with a *HeartbeatEvent
	EventHeartbeat
	// EventError is emitted with an error for messages that could not be delivered
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventMessageReceived:
		return "MESSAGE_RECEIVED"
	case EventCredentialsChanged:
		return "CREDENTIALS_CHANGED"
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventReady:
		return "READY"
	case EventHeartbeat:
		return "HEARTBEAT"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event represents an event from the push receiver client
type Event struct {
	Type EventType
	Data interface{}
}

// MessageEvent carries a decrypted message. The persistent id has to be
// stored by the caller and passed back on the next start.
type MessageEvent struct {
	Message      json.RawMessage
	PersistentID string
	From         string
}

// CredentialsChangedEvent carries credentials to persist. Old is nil after
// the first registration.
type CredentialsChangedEvent struct {
	Old *register.Credentials
	New *register.Credentials
}

// ConnectedEvent identifies the new connection in logs
type ConnectedEvent struct {
	ConnID string
}

// DisconnectedEvent carries the failure that ended the connection
type DisconnectedEvent struct {
	Cause error
}

// HeartbeatEvent is emitted for server pings (Ping set) and acks
type HeartbeatEvent struct {
	Ping bool
}

// Handler receives events synchronously on the goroutine that produced them
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// observers is a registry of handlers per event type, called in
// registration order
type observers struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[EventType][]subscription
}

func (o *observers) add(t EventType, h Handler) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.handlers == nil {
		o.handlers = make(map[EventType][]subscription)
	}
	o.nextID++
	id := o.nextID
	o.handlers[t] = append(o.handlers[t], subscription{id: id, handler: h})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		subs := o.handlers[t]
		for i, s := range subs {
			if s.id == id {
				o.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (o *observers) emit(ev Event) {
	o.mu.Lock()
	subs := append([]subscription(nil), o.handlers[ev.Type]...)
	o.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
