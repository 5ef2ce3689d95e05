// Package persistence remembers the cameras a remote has connected to.
//
// The store is a small JSON file with one entry per transport. On startup
// the remote seeds its session with the remembered identity, so a camera
// that kept its address is dialed without discovery. The seeded address is
// not pinned: a failed dial forgets it and the next attempt discovers again.
package persistence
