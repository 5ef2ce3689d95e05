// Package bluez is the BlueZ D-Bus backend of the register transport.
//
// Client scans for a device by advertised name prefix and connects to it.
// The returned Link implements register.Link: characteristic handles are
// taken from the "charXXXX" suffix of their object paths, and
// PropertiesChanged signals are turned into notifications and disconnect
// callbacks on a single goroutine per link.
package bluez
