// Package mailer delivers registration confirmation mail. The production
// sender speaks the Sendinblue transactional mail API; MemorySender stands in
// for it in tests and local development.
//
// # What this package must NOT do
//
//   - It must not persist tokens. The sender mints the verification token and
//     hands it back to the caller; storage is the engine's problem.
//   - It must not validate usernames or mail addresses. Callers pass values
//     that already cleared validation.
package mailer
