// Package blecontrol drives the camera over Bluetooth Low Energy.
//
// Transport implements connection.Transport on top of BlueZ: it scans for
// the "G9M2" name prefix, connects, loads the register catalog, enables
// notifications and logs in with the challenge-response of the chosen
// Flavor. Control holds the command vocabulary (shutter, video, access
// point, clock, GPS, information reads); every command is a register call
// run by the request executor.
package blecontrol
