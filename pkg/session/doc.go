// Package session holds the state of a single camera control session:
// connection state, device identity, session token, cached device state,
// pushed properties, the event-driven busy gate and the command slot.
//
// The state machine itself lives in package connection. Session only
// guarantees that every read and write happens under one lock and that a
// teardown bumps the epoch, letting in-flight work notice a reconnect.
package session
