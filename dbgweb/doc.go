// Package dbgweb is the HTTP surface of the debug bar.
//
// Middleware creates a debug request for every allowed request, and injects
// the rendered panel into HTML responses. Handler serves the data which is
// fetched after the response: stored dumps, late log entries, and a
// server-sent event stream of late log entries. Client calls a remote
// Handler.
package dbgweb
