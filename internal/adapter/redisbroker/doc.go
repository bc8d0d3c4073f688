// Package redisbroker backs the broadcast router and the connection registry
// with Redis: pub/sub for cross-instance message routing and plain keyspace
// commands for the distributed connection mirror.
package redisbroker
