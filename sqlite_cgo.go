//go:build cgo

package sqlite

import "github.com/meridiandb/sqlite/cgosqlite"

func init() {
	openEngine = cgosqlite.Open
}
