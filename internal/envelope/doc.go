// Package envelope defines the canonical wire message exchanged between
// clients, server instances, and the pub/sub broker.
//
// Every message is a JSON object {type, event_id, timestamp, data}. Four
// type values are reserved for the protocol itself: ping, pong, error, ack.
package envelope
