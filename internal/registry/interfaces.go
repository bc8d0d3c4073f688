package registry

import "context"

// Close codes passed to Transport.Close, mirroring WebSocket semantics.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
)

// Transport is a single accepted socket-like connection. Implementations
// must tolerate Close being called more than once.
type Transport interface {
	// Accept completes the transport-level handshake.
	Accept(ctx context.Context) error
	// Send writes one wire message.
	Send(ctx context.Context, data []byte) error
	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}

// Authenticator resolves a credential to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (string, error)
}

// StoreClient is the distributed store surface the registry mirrors into.
// All writes are per-key with TTLs; no cross-key transactions are assumed.
type StoreClient interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	Expire(ctx context.Context, key string, seconds int64) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}
