// Package internal holds helpers private to authgate, currently the one-time
// token generator.
//
// # Sub-packages
//
//   - appconfig: process configuration (YAML file, then environment)
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - dbx: transaction helper shared by SQL stores
//   - httpapi: HTTP surface over the engine
//   - rate: Redis fixed-window attempt limiter
//   - sweeper: scheduled cleanup of expired sessions and tokens
package internal
