// Package stores provides the two Redis-backed record stores the engine is
// built on: the handshake state store and the account record store.
//
// # Design
//
// The handshake store keeps one versioned, binary-encoded record per
// (flow, username) pair with an absolute TTL enforced by Redis itself; the
// record carries its own creation timestamp, which makes it double as the
// rate-limit ledger (see internal/rate). The account store keeps one
// JSON-encoded durable record per username, split across a pending and a
// confirmed keyspace so a half-finished registration never collides with a
// completed one.
//
// # What this package must NOT do
//
//   - Interpret handshake payloads. They are opaque protocol state.
//   - Enforce throttling policy or account gates. Those belong to
//     internal/rate and the engine.
package stores
