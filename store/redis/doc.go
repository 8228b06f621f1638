// Package redis provides a Redis-backed authgate.SessionStore.
//
// # Key layout
//
//	<prefix>:s:<session id>   hash of one session, expires with its refresh token
//	<prefix>:u:<user id>      set of the user's session ids
//
// Users, verification records and roles are not stored here; pair this
// store with a relational backend for those.
package redis
