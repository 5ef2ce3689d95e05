// Package register maps the camera's logical register addresses onto a
// GATT-style link.
//
// The device numbers its registers one above the characteristic declaration
// handle, so Load builds a catalog keyed by handle+1. Every read, write and
// notification goes through that catalog and lands in a last-known-value
// cache. Any failure of the underlying link invalidates the catalog and
// surfaces as ErrLinkDropped, which matches wire.ErrTransport; the catalog
// is rebuilt on the next connect and never reused across links.
package register
