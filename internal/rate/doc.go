// Package rate implements the attempt throttle for registration and login
// flows.
//
// # Window semantics
//
// There is no separate counter store. A flow is throttled for a username iff a
// handshake record exists for the pair and its age is inside the flow's
// window. Starting a new handshake overwrites the record, which resets the
// clock; letting the record expire clears the throttle. The windows must
// therefore never exceed the handshake TTL or the throttle silently stops
// working before the window ends; config validation enforces that.
//
// # What this package must NOT do
//
//   - Keep its own state. The handshake store is the only ledger.
//   - Be imported outside this module.
package rate
