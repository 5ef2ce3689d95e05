// Package catalog lists and downloads the content on the camera's card.
//
// Listing uses the UPnP ContentDirectory Browse action on port 60606 with
// the camera's pana:X_* extensions for filtering. Pages are requested
// through the request executor, so they share the command slot and busy
// retry with every other call. BrowseAll keeps paging until it holds as
// many distinct objects as the latest TotalMatches; the camera may revise
// that total between pages.
package catalog
