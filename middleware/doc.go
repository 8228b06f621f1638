// Package middleware gates HTTP routes on a verified access token, the
// caller's current roles and, for plain users, ownership of the target
// resource.
//
// # Gates
//
//   - [Authz.Authenticate] verifies the bearer token and attaches a [Principal].
//   - [Authz.Require] additionally checks the route's [RouteRule]: the role
//     gate first, then the ownership gate.
//
// Roles are fetched through the RoleResolver on every request, so a role
// change applies without re-issuing tokens. The ownership gate applies only
// when the caller's role set is exactly {User}; administrators pass it.
//
// # Policy
//
// An [AuthPolicy] is passed to [New]. A disabled policy lets requests
// through without a token and skips both gates; it exists for local tooling
// and is rejected by [AuthPolicy.Check] in production.
//
// # What this package must NOT do
//
//   - Sign tokens or touch session rows (token verification is stateless).
//   - Cache roles between requests.
package middleware
