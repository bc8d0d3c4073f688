package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved message types. Application types must not collide with these.
const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
	TypeAck   = "ack"
)

// Data field keys used by the error and ack variants.
const (
	FieldError      = "error"
	FieldDetails    = "details"
	FieldAckEventID = "ack_event_id"
)

var reservedTypes = map[string]struct{}{
	TypePing:  {},
	TypePong:  {},
	TypeError: {},
	TypeAck:   {},
}

// IsReservedType reports whether t is one of the protocol-reserved types.
func IsReservedType(t string) bool {
	_, ok := reservedTypes[t]
	return ok
}

// Envelope is the wire message. EventID is unique per logical send, not per
// delivery: the same envelope may reach many connections.
type Envelope struct {
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an application envelope with a fresh event id.
// Returns an error if msgType is one of the reserved types; those are
// constructed through their dedicated constructors.
func New(msgType string, data map[string]any) (*Envelope, error) {
	if IsReservedType(msgType) {
		return nil, fmt.Errorf("message type %q is reserved", msgType)
	}
	return newEnvelope(msgType, data), nil
}

func newEnvelope(msgType string, data map[string]any) *Envelope {
	return &Envelope{
		Type:      msgType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Ping creates a heartbeat ping. Pings carry no data.
func Ping() *Envelope {
	return newEnvelope(TypePing, nil)
}

// Pong creates a heartbeat pong reply. Pongs carry no data.
func Pong() *Envelope {
	return newEnvelope(TypePong, nil)
}

// Error creates an error envelope. details may be nil.
func Error(message string, details map[string]any) *Envelope {
	data := map[string]any{FieldError: message}
	if details != nil {
		data[FieldDetails] = details
	}
	return newEnvelope(TypeError, data)
}

// Ack creates an acknowledgement referencing the event being acknowledged.
func Ack(ackEventID string) *Envelope {
	return newEnvelope(TypeAck, map[string]any{FieldAckEventID: ackEventID})
}

// Encode serializes the envelope to its JSON wire format with an RFC 3339
// UTC timestamp. Data values must be JSON-serializable (strings, numbers,
// booleans, nil, and arrays/maps thereof); anything else is an error rather
// than a lossy stringification.
func (e *Envelope) Encode() ([]byte, error) {
	clone := *e
	clone.Timestamp = e.Timestamp.UTC()
	data, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire message. The timestamp is normalized to UTC.
func Decode(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// Equal reports whether two envelopes carry the same logical message.
// Timestamps are compared at second precision since the wire format does
// not guarantee sub-second round-tripping across peers.
func (e *Envelope) Equal(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Type != other.Type || e.EventID != other.EventID {
		return false
	}
	if !e.Timestamp.Truncate(time.Second).Equal(other.Timestamp.Truncate(time.Second)) {
		return false
	}
	a, errA := json.Marshal(e.Data)
	b, errB := json.Marshal(other.Data)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
