// Package integration runs the collaboration server end to end: a real
// listener, HMAC tokens, a seeded memory store and websocket clients.
package integration
