// Package handshake derives the challenge responses a camera expects during
// session establishment.
//
// # Overview
//
// The device issues a 4-byte nonce. The client proves protocol knowledge by
// XORing the nonce with fixed per-transport tables and writing the words back
// big-endian. There is no key material and no state; every function here is
// deterministic and free of I/O.
//
// # Register Login
//
//  1. Read the nonce register (0x002A Sync, 0x007A Lab)
//  2. Write Response.Command to 0x002C (Sync) or 0x0072 (Lab)
//  3. Write Response.Confirm to 0x002E (Sync) or 0x0074 (Lab, no ack)
//
// # Call Login
//
//  1. accctrl/req_acc_g returns the nonce as 8 hex digits (little-endian)
//  2. accctrl/req_acc_e with value and value2 from CallResponse
package handshake
