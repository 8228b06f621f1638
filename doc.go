// Package authgate is an authentication engine: sign-up and sign-in with
// hashed credentials, signed access and refresh tokens backed by persisted
// session rows, refresh rotation, revocation, single-use password reset and
// email verification tokens, and TOTP second factor.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// the store contracts ([UserStore], [SessionStore], [VerificationStore],
// [RoleResolver], [Mailer]) and value types. Storage backends live under
// store/, HTTP authorization under middleware/, and hashing, token signing,
// rate limiting and audit dispatch in their own packages.
//
// # What this package must NOT do
//
//   - Persist or log plaintext tokens, token hashes, OTP secrets or passwords.
//   - Choose a storage backend. Stores are injected once through [Builder].
//   - Import any sub-package that re-imports authgate (no import cycles).
//
// # Concurrency contract
//
// Refresh rotation and one-time token consumption are decided by the
// conditional writes of the injected stores. Of two calls presenting the same
// refresh token to [Engine.RefreshBoth], exactly one succeeds.
package authgate
