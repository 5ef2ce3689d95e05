// Package events carries camera events to the rest of the program.
//
// A Feed fans typed events out by topic. On Wi-Fi the camera pushes UPnP
// properties: a Subscriber keeps a GENA subscription alive on
// /Server0/CMS_event and a Listener receives the NOTIFY requests on
// /Camera/event, checks they come from the connected camera, caches the
// properties on the session and publishes them.
//
// X_Panasonic_Cam_Sync drives the busy gate. "busy" closes it while the
// camera is operated by hand; any other value opens it again. "lens_*"
// and "update" values ask the controller to refresh lens information and
// menus, see ClassifySync.
package events
