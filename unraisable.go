package sqlite

import "github.com/go-pkgz/lgr"

// UnraisableHook receives errors that have no caller to return to:
// failures during the implicit close of an object that became
// unreachable without Close being called. op names the code path.
//
// The default logs through lgr. Replace it before opening connections;
// it may be called from the runtime's cleanup goroutine.
var UnraisableHook = func(op string, err error) {
	lgr.Printf("[WARN] sqlite: %s: %v", op, err)
}

func unraisable(op string, err error) {
	if err == nil {
		return
	}
	if hook := UnraisableHook; hook != nil {
		hook(op, err)
	}
}
