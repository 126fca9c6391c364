package cgosqlite

// #include <sqlite3.h>
import "C"
import (
	"sync"
	"unsafe"
)

// busyHandlers maps a *C.sqlite3 to its Go busy handler.
// Entries are removed on Close, BusyTimeout, and SetBusyHandler(nil).
var busyHandlers sync.Map // from *C.sqlite3 to func(int) bool

//export busyHandlerGo
func busyHandlerGo(p unsafe.Pointer, retries C.int) C.int {
	v, _ := busyHandlers.Load((*C.sqlite3)(p))
	handler, _ := v.(func(retries int) bool)
	if handler == nil {
		return C.int(0)
	}
	if handler(int(retries)) {
		return C.int(1)
	}
	return C.int(0)
}
