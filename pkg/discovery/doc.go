// Package discovery finds the camera.
//
// Over Wi-Fi the camera answers an ssdp:all M-SEARCH with a Location
// pointing at /Lumix/Server0/ddd on port 60606; that document carries the
// friendly name, model, serial number and UDN. Over BLE the camera
// advertises a local name starting with "G9M2".
//
// Exactly one camera is expected. Browser.Find fails with
// ErrMultipleDevices naming every host when more than one answers.
package discovery
