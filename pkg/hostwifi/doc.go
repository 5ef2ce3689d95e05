// Package hostwifi joins this host to the camera's own access point.
//
// After the camera opens its access point over BLE, the host still has to
// associate with it before the Wi-Fi transport can reach 192.168.54.1.
// Joiner picks the strongest network whose SSID matches, activates a
// connection through NetworkManager and waits until it is up.
package hostwifi
