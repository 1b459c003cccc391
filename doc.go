// Package debugbar provides the request-scoped data collection behind an
// in-browser debug bar, similar to the debug toolbars found in many web
// frameworks.
//
// The basic idea is to collect diagnostics into a value in the context, known
// as a request, rather than into a log file. Each request served by the
// application gets its own set of collectors: rendered views, request and
// route metadata, auth state, log lines, and database queries. When the
// response is written, the collected data is assembled into a dataset and
// handed to a renderer, which typically injects a panel into the HTML.
//
// Bulky values are never stored as-is. They are converted by a dumper into a
// bounded, redacted tree, which is safe to serialize and display. Small
// previews are shown inline, and full dumps are persisted to a store keyed by
// request ID and dump ID, with a TTL and a per-request byte cap. The panel
// fetches full dumps, and late log lines, from the store after the original
// request has finished.
//
// None of this is meant for production traffic. Dumps are ephemeral, bounded,
// and local to a single process. If the process restarts, in-memory data is
// lost.
//
// This package defines the shared configuration, identifiers, and error
// values. The components live in subpackages: [dbgdump], [dbgredact],
// [dbgview], [dbgstore], [dbglog], [dbgsql], [dbgcollect], and [dbgweb].
//
// [dbgdump]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgdump
// [dbgredact]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgredact
// [dbgview]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgview
// [dbgstore]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgstore
// [dbglog]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbglog
// [dbgsql]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgsql
// [dbgcollect]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgcollect
// [dbgweb]: https://pkg.go.dev/github.com/peterbourgon/debugbar/dbgweb
package debugbar
