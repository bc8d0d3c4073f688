// Package registry is the per-process source of truth for connected clients.
//
// It owns the connection table and the user index, authenticates incoming
// connections, delivers envelopes locally (direct, per-user, per-room,
// broadcast), and optionally mirrors connection state into a shared
// TTL-based store so counts and targeted delivery work across instances.
package registry
