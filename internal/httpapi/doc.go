// Package httpapi mounts the engine on a gorilla/mux router.
//
// Status codes are part of the contract: bad credentials and duplicate
// sign-ups are 400, middleware denials 401, rejected refresh tokens 500,
// and an expired session status 404. Internal failures are logged and
// answered with an opaque body.
package httpapi
