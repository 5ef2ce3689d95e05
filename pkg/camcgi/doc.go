// Package camcgi is the HTTP call primitive of the request/response
// transport: GET /cam.cgi with mode, type, value and value2 parameters.
//
// Every reply must carry "Server: Panasonic". XML replies hold the status in
// <result>; plain text replies are one CSV line whose first field is the
// status. The session token issued by the handshake travels in the
// X-SESSION_ID header.
package camcgi
