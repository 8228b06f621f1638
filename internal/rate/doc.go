// Package rate implements Redis fixed-window attempt counters.
//
// # Window semantics
//
// INCR, then EXPIRE on the first hit of a window. Keys are
// <keyspace>:<scope>:<subject>, for example authgate:rl:si:alice.
//
// Policy (which scopes exist, their budgets, and when a counter is reset)
// lives with the caller.
package rate
