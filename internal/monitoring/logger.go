// Package monitoring holds the receiver's diagnostics: the shared printf-style logger used
// by the engine, sample mux and sighting store, the Prometheus metrics, and sample
// amplitude summaries.
package monitoring

import "log"

// LogFunc is a printf-style log sink, such as log.Printf or a structured logger's Infof.
type LogFunc func(format string, v ...any)

// Logf is the diagnostic logger shared by the receiver packages. It defaults to
// log.Printf; cmd/blerx routes it to its structured logger.
var Logf LogFunc = log.Printf

// SetLogger replaces Logf. nil mutes diagnostics, which tests use to keep engine debug
// output quiet.
func SetLogger(f LogFunc) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
