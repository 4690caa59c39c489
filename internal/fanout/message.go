package fanout

import "time"

// MessageType enumerates the wire-protocol frames the bus can emit,
// covering both control traffic (connection/subscription lifecycle,
// liveness) and the EventUpdate payloads proper.
type MessageType string

const (
	MessageConnectionEstablished MessageType = "connection_established"
	MessageSubscriptionUpdated   MessageType = "subscription_updated"
	MessagePing                  MessageType = "ping"
	MessagePong                  MessageType = "pong"
	MessageSecurityEvent         MessageType = "security_event"
	MessageProcessingUpdate      MessageType = "processing_update"
	MessageHealthUpdate          MessageType = "health_update"
	MessageError                 MessageType = "error"
)

// Message is the JSON envelope written to a subscriber's transport.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Transport is implemented by whatever carries a subscriber's frames —
// a websocket connection, an SSE stream, a gRPC stream, or (in tests) an
// in-memory recorder. The bus is deliberately ignorant of the transport
// concretely in use: §4.3 treats delivery discipline and transport as
// separate concerns.
type Transport interface {
	Send(Message) error
	Close() error
}

// eventMessageType maps an EventUpdate's EventType onto a wire
// MessageType, defaulting to security_event for anything the fan-out
// layer doesn't recognize so the frame is still delivered.
func eventMessageType(eventType string) MessageType {
	switch eventType {
	case string(MessageProcessingUpdate):
		return MessageProcessingUpdate
	case string(MessageHealthUpdate):
		return MessageHealthUpdate
	case string(MessageError):
		return MessageError
	default:
		return MessageSecurityEvent
	}
}
