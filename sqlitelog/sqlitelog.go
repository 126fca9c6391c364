// Package sqlitelog provides tracers that log statements as they run.
package sqlitelog

import (
	"github.com/go-pkgz/lgr"

	"github.com/meridiandb/sqlite"
)

// ExecTracer returns an exec tracer that logs every statement through
// l at DEBUG and never vetoes. Install it with sqlite.WithExecTracer
// or Cursor.SetExecTracer.
func ExecTracer(l lgr.L) sqlite.ExecTracer {
	return func(query string, bindings any) bool {
		if bindings == nil {
			l.Logf("DEBUG sqlite: %s", query)
		} else {
			l.Logf("DEBUG sqlite: %s bindings=%v", query, bindings)
		}
		return true
	}
}

// Default is ExecTracer over the lgr default logger.
func Default() sqlite.ExecTracer {
	return ExecTracer(lgr.Default())
}
