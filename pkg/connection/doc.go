// Package connection drives a camera session from Disconnected to Ready
// and back.
//
// A Manager walks a Transport through discover, dial, prepare and
// authenticate, recording each step on the session. Failed attempts are
// retried at a fixed 2s cadence by default; an exponential cadence with
// jitter is available through ExponentialBackoff. Authentication failure
// ends a Connect call at once.
//
// # States
//
//	Disconnected -> Discovering -> TransportConnected -> Authenticating -> Ready
//	      ^                                                              |
//	      +-------------------- NotifyConnectionLost --------------------+
//
// Discovering is skipped when the device address is already known. Close
// moves the session to the terminal Closed state.
//
// # Auto-connect
//
// With AutoConnect set, EnsureReady connects on demand and Start runs a
// background loop that reconnects after every loss. Without it EnsureReady
// fails fast with wire.ErrNotConnected.
package connection
