// Package heartbeat detects dead connections via a ping/pong protocol.
//
// One goroutine per watched connection sends periodic pings and checks the
// time since the last recorded pong. A connection whose pong timeout lapses
// is reported dead exactly once through the watch callback, then its
// goroutine exits.
package heartbeat
