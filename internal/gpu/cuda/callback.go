//go:build cuda

package cuda

/*
#include <stdint.h>
typedef void (*tm_callback)(uintptr_t token);
*/
import "C"

import "sync"

var (
	callbackMu   sync.Mutex
	callbacks    = make(map[uintptr]func())
	nextCallback uintptr
)

func registerCallback(fn func()) uintptr {
	if fn == nil {
		return 0
	}
	callbackMu.Lock()
	defer callbackMu.Unlock()
	nextCallback++
	token := nextCallback
	callbacks[token] = fn
	return token
}

func releaseCallback(token uintptr) {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	delete(callbacks, token)
}

//export tm_invoke_callback
func tm_invoke_callback(token C.uintptr_t) {
	t := uintptr(token)
	if t == 0 {
		return
	}
	callbackMu.Lock()
	fn, ok := callbacks[t]
	delete(callbacks, t)
	callbackMu.Unlock()
	if ok {
		fn()
	}
}
