// Package wificontrol drives the camera over its Wi-Fi interface.
//
// Transport implements connection.Transport for the cam.cgi interface: it
// discovers the camera over SSDP, reads the device description, logs in
// with the accctrl challenge and announces the client name. The resulting
// session id travels as X-SESSION_ID on every later call. Transport also
// dispatches content directory pages, so catalog browsing shares the
// executor and its command lock.
//
// Control wraps the command vocabulary and caches the information read
// after login (capability, menus, lens, settings). Monitor keeps a Ready
// session alive with the getstate poller and follows the camera's pushed
// events.
package wificontrol
