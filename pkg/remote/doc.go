// Package remote is the single entry point for a camera session.
//
// A Remote assembles the session, the transport for the selected link
// (BLE registers or Wi-Fi cam.cgi), the request executor, the connection
// manager and the event feed. Callers talk to it through three surfaces:
//
//   - Invoke runs a named command from the command table with positional
//     arguments. Each transport has its own table plus one "raw" command
//     for calls outside the typed vocabulary.
//   - Events subscribes to the feed: connection changes, polled state,
//     register notifications, pushed properties and refreshed device
//     information.
//   - Browse lists the content stored on the camera (Wi-Fi only).
//
// The Remote has no package state; several can run side by side.
package remote
