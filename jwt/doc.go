// Package jwt signs and verifies the access and refresh tokens handed to
// clients. Each token kind is signed with its own key, carries the subject
// id and username, and expires after its configured lifetime.
package jwt
