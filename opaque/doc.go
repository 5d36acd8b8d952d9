// Package opaque wraps the gopaque OPAQUE implementation into the four
// byte-oriented server operations the authentication engine consumes:
// registration start/finish and login start/finish.
//
// gopaque's own server session types keep their OPRF and key-exchange state in
// unexported fields, which ties both halves of a handshake to one process. This
// package re-expresses the server side with gopaque's exported OPRF steps,
// crypto suite, and SIGMA message types so the in-flight state serializes to an
// opaque byte blob that can live in external storage between the two HTTP round
// trips. Wire messages are unchanged: a gopaque UserRegister/UserAuth client
// interoperates as-is.
//
// # What this package must NOT do
//
//   - Know about usernames beyond the opaque user ID baked into the protocol.
//   - Touch storage, rate limits, or account lifecycle. Those live in the
//     engine.
package opaque
