// Package taskfn is a name→function registry for manifest-declared CPU
// tasks, the direct analogue of the teacher's modules/* action runners
// registered by name and resolved at grid-build time (see
// internal/registry in the teacher). Here the lookup key is a cpu_task's
// "fn" attribute rather than a runner block type.
package taskfn

import (
	"fmt"
	"sync"

	"github.com/vk/taskmesh/internal/datastore"
)

// Func is a manifest-resolvable CPU task body. It operates on raw DataIDs
// rather than typed handles: a function registered by name has no
// compile-time knowledge of what a manifest will bind it to, so it reads
// and writes byte spans directly through the store.
type Func func(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error

var (
	mu       sync.Mutex
	registry = make(map[string]Func)
)

// Register installs fn under name, overwriting any previous registration.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

// Lookup returns the function registered under name, if any.
func Lookup(name string) (Func, bool) {
	mu.Lock()
	defer mu.Unlock()
	fn, ok := registry[name]
	return fn, ok
}

func requireInputs(name string, inputs []datastore.DataID, want int) error {
	if len(inputs) != want {
		return fmt.Errorf("taskfn: %s wants %d inputs, got %d", name, want, len(inputs))
	}
	return nil
}
