package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/metrics"
	apperrors "github.com/sockpulse/sockpulse/internal/platform/errors"
)

// Store key schema. Connection records and user indexes share a TTL and are
// refreshed together by the heartbeat, so an expired record means a dead
// connection rather than an idle one.
const (
	connectionKeyPrefix = "ws:connection:"
	userKeyPrefix       = "ws:user:"
	userKeySuffix       = ":connections"
)

func connectionKey(connectionID string) string {
	return connectionKeyPrefix + connectionID
}

func userConnectionsKey(userID string) string {
	return userKeyPrefix + userID + userKeySuffix
}

// Connection is a single registered client connection. It is exclusively
// owned by the registry of the process that accepted it.
type Connection struct {
	ID          string
	UserID      string
	Transport   Transport
	ConnectedAt time.Time
}

// Stats summarizes registry state. GlobalConnections is -1 when no store is
// configured or the store query failed.
type Stats struct {
	LocalConnections  int
	LocalUsers        int
	GlobalConnections int
}

// Registry tracks the connections owned by this process.
type Registry struct {
	clock clockwork.Clock
	store StoreClient
	ttl   time.Duration

	// storeDown gates the one-time degradation log, reset on recovery.
	storeDown atomic.Bool

	mu        sync.Mutex
	conns     map[string]*Connection
	userConns map[string]map[string]struct{}
	rooms     map[string]map[string]struct{}
	connRooms map[string]map[string]struct{}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithStore mirrors connection state into a shared store with the given TTL.
func WithStore(store StoreClient, ttl time.Duration) Option {
	return func(r *Registry) {
		r.store = store
		r.ttl = ttl
	}
}

// New creates an empty registry.
func New(clock clockwork.Clock, opts ...Option) *Registry {
	r := &Registry{
		clock:     clock,
		conns:     make(map[string]*Connection),
		userConns: make(map[string]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect authenticates and registers a new connection.
//
// With a credential and authenticator, the credential is resolved to a user
// id; rejection closes the transport with a policy-violation code and
// returns an authentication error. Without a credential the connection gets
// a synthesized anonymous user id. On success the transport handshake is
// completed, local maps are updated, and the connection is mirrored into
// the distributed store when one is configured.
func (r *Registry) Connect(ctx context.Context, transport Transport, credential string, auth Authenticator) (*Connection, error) {
	var userID string
	if credential != "" && auth != nil {
		resolved, err := auth.Authenticate(ctx, credential)
		if err != nil || resolved == "" {
			_ = transport.Close(ClosePolicyViolation, "authentication failed")
			metrics.RegistryAuthFailuresTotal.Inc()
			return nil, apperrors.AuthenticationError("credential rejected", err)
		}
		userID = resolved
	} else {
		userID = "anon-" + uuid.NewString()
	}

	if err := transport.Accept(ctx); err != nil {
		return nil, apperrors.TransportError("accept handshake failed", err)
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Transport:   transport,
		ConnectedAt: r.clock.Now().UTC(),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	set, ok := r.userConns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userConns[userID] = set
	}
	set[conn.ID] = struct{}{}
	connCount, userCount := len(r.conns), len(r.userConns)
	r.mu.Unlock()

	metrics.RegistryActiveConnections.Set(float64(connCount))
	metrics.RegistryActiveUsers.Set(float64(userCount))
	slog.Info("Connection registered",
		"connection_id", conn.ID,
		"user_id", userID,
		"connections", connCount,
		"users", userCount,
	)

	r.mirrorConnect(ctx, conn)
	return conn, nil
}

// Disconnect removes a connection. Idempotent: returns whether anything was
// actually removed. Local state goes first, then the distributed mirror,
// then the transport close; a transport that is already closed is fine.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) bool {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, connectionID)

	if set, ok := r.userConns[conn.UserID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.userConns, conn.UserID)
		}
	}
	for roomID := range r.connRooms[connectionID] {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.connRooms, connectionID)
	connCount, userCount := len(r.conns), len(r.userConns)
	r.mu.Unlock()

	r.mirrorDisconnect(ctx, conn)
	_ = conn.Transport.Close(CloseNormal, "")

	metrics.RegistryActiveConnections.Set(float64(connCount))
	metrics.RegistryActiveUsers.Set(float64(userCount))
	slog.Info("Connection removed",
		"connection_id", connectionID,
		"user_id", conn.UserID,
		"connections", connCount,
		"users", userCount,
	)
	return true
}

// SendPersonal delivers an envelope to one connection. A send failure
// disconnects that connection and returns false; errors never propagate.
func (r *Registry) SendPersonal(ctx context.Context, env *envelope.Envelope, connectionID string) bool {
	data, err := env.Encode()
	if err != nil {
		slog.Error("Failed to encode envelope", "event_id", env.EventID, "error", err)
		return false
	}

	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := conn.Transport.Send(ctx, data); err != nil {
		slog.Debug("Send failed, disconnecting",
			"connection_id", connectionID,
			"error", err,
		)
		metrics.RegistrySendFailuresTotal.Inc()
		r.Disconnect(ctx, connectionID)
		return false
	}

	metrics.RegistryDeliveriesTotal.WithLabelValues("personal").Inc()
	return true
}

// SendToUser fans an envelope out to every local connection of a user.
// Each failed delivery disconnects only its own connection. Returns the
// number of successful deliveries.
func (r *Registry) SendToUser(ctx context.Context, env *envelope.Envelope, userID string) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.userConns[userID]))
	for id := range r.userConns[userID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	count := r.deliver(ctx, env, ids, "user")
	return count
}

// SendToRoom fans an envelope out to every local member of a room.
func (r *Registry) SendToRoom(ctx context.Context, env *envelope.Envelope, roomID string) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	return r.deliver(ctx, env, ids, "room")
}

// Broadcast delivers an envelope to every local connection. Failing
// connections are disconnected after the sweep so iteration stays sound.
func (r *Registry) Broadcast(ctx context.Context, env *envelope.Envelope) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	return r.deliver(ctx, env, ids, "broadcast")
}

// deliver sends the encoded envelope to each connection id, disconnecting
// failures after the sweep completes.
func (r *Registry) deliver(ctx context.Context, env *envelope.Envelope, ids []string, route string) int {
	if len(ids) == 0 {
		return 0
	}

	data, err := env.Encode()
	if err != nil {
		slog.Error("Failed to encode envelope", "event_id", env.EventID, "error", err)
		return 0
	}

	var failed []string
	count := 0
	for _, id := range ids {
		r.mu.Lock()
		conn, ok := r.conns[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		if err := conn.Transport.Send(ctx, data); err != nil {
			metrics.RegistrySendFailuresTotal.Inc()
			failed = append(failed, id)
			continue
		}
		count++
	}

	for _, id := range failed {
		slog.Debug("Send failed during fanout, disconnecting",
			"connection_id", id,
			"route", route,
		)
		r.Disconnect(ctx, id)
	}

	metrics.RegistryDeliveriesTotal.WithLabelValues(route).Add(float64(count))
	return count
}

// JoinRoom adds a connection to a room's local membership.
// Returns false if the connection is unknown.
func (r *Registry) JoinRoom(connectionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connectionID]; !ok {
		return false
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][connectionID] = struct{}{}
	if r.connRooms[connectionID] == nil {
		r.connRooms[connectionID] = make(map[string]struct{})
	}
	r.connRooms[connectionID][roomID] = struct{}{}
	return true
}

// LeaveRoom removes a connection from a room. No-op for unknown pairs.
func (r *Registry) LeaveRoom(connectionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connectionID]; !ok {
		return false
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	if roomSet, ok := r.connRooms[connectionID]; ok {
		delete(roomSet, roomID)
		if len(roomSet) == 0 {
			delete(r.connRooms, connectionID)
		}
	}
	return true
}

// Connection returns the connection for an id, if present.
func (r *Registry) Connection(connectionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// UserConnections returns the connection ids currently indexed for a user.
func (r *Registry) UserConnections(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.userConns[userID]))
	for id := range r.userConns[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns local counts plus a best-effort global connection count
// from the store.
func (r *Registry) Stats(ctx context.Context) Stats {
	r.mu.Lock()
	stats := Stats{
		LocalConnections:  len(r.conns),
		LocalUsers:        len(r.userConns),
		GlobalConnections: -1,
	}
	r.mu.Unlock()

	if r.store == nil {
		return stats
	}
	keys, err := r.store.Keys(ctx, connectionKeyPrefix+"*")
	if err != nil {
		r.storeError("keys", err)
		return stats
	}
	r.storeRecovered()
	stats.GlobalConnections = len(keys)
	return stats
}

// TouchTTL refreshes the distributed record TTLs for a connection. Wired to
// the heartbeat's beat hook so records expire only when a connection is
// truly dead.
func (r *Registry) TouchTTL(ctx context.Context, connectionID string) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	ttl := r.ttlSeconds()
	if err := r.store.Expire(ctx, connectionKey(conn.ID), ttl); err != nil {
		r.storeError("expire", err)
		return
	}
	if err := r.store.Expire(ctx, userConnectionsKey(conn.UserID), ttl); err != nil {
		r.storeError("expire", err)
		return
	}
	r.storeRecovered()
}

func (r *Registry) mirrorConnect(ctx context.Context, conn *Connection) {
	if r.store == nil {
		return
	}

	fields := map[string]string{
		"user_id":      conn.UserID,
		"connected_at": conn.ConnectedAt.Format(time.RFC3339),
	}
	ttl := r.ttlSeconds()

	ck := connectionKey(conn.ID)
	uk := userConnectionsKey(conn.UserID)
	if err := r.store.HSet(ctx, ck, fields); err != nil {
		r.storeError("hset", err)
		return
	}
	if err := r.store.Expire(ctx, ck, ttl); err != nil {
		r.storeError("expire", err)
		return
	}
	if err := r.store.SAdd(ctx, uk, conn.ID); err != nil {
		r.storeError("sadd", err)
		return
	}
	if err := r.store.Expire(ctx, uk, ttl); err != nil {
		r.storeError("expire", err)
		return
	}
	r.storeRecovered()
}

func (r *Registry) mirrorDisconnect(ctx context.Context, conn *Connection) {
	if r.store == nil {
		return
	}
	if err := r.store.Del(ctx, connectionKey(conn.ID)); err != nil {
		r.storeError("del", err)
		return
	}
	if err := r.store.SRem(ctx, userConnectionsKey(conn.UserID), conn.ID); err != nil {
		r.storeError("srem", err)
		return
	}
	r.storeRecovered()
}

func (r *Registry) ttlSeconds() int64 {
	seconds := int64(r.ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// storeError records a store failure. The degradation to local-only is
// logged once per outage, not per operation.
func (r *Registry) storeError(operation string, err error) {
	metrics.RegistryStoreErrorsTotal.WithLabelValues(operation).Inc()
	if !r.storeDown.Swap(true) {
		slog.Warn("Distributed store unavailable, degrading to local-only",
			"operation", operation,
			"error", err,
		)
	}
}

func (r *Registry) storeRecovered() {
	if r.storeDown.Swap(false) {
		slog.Info("Distributed store recovered")
	}
}
