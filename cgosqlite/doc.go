// Package cgosqlite is a low-level interface onto SQLite using cgo.
//
// It has as few opinions as possible: it wraps the SQLite3 C API with
// functions that are Go-friendly without hiding any behavior of the
// underlying C calls, and without unduly heap allocating where C
// wouldn't.
//
// Users of this package do not need to touch cgo themselves. The
// high-level sqlite package builds its statement cache, cursors, and
// lifecycle tracking on the sqliteh interfaces this package
// implements.
package cgosqlite
