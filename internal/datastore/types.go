// Package datastore maps opaque data IDs to typed host memory and exposes
// byte-level accessors for it, as described by §4.1 of the runtime
// specification. Every task in a graph reads its inputs and writes its
// output through a single shared Store.
package datastore

import "fmt"

// DataID is an opaque, monotonically increasing identifier assigned when a
// value is registered with the store.
type DataID int64

func (id DataID) String() string {
	return fmt.Sprintf("data#%d", int64(id))
}

// MemHint describes where a value's backing memory is expected to live once
// it crosses onto a GPU device.
type MemHint int

const (
	// DeviceLocal is private device memory; H2D/D2H requires a staging path.
	DeviceLocal MemHint = iota
	// Unified is a shared address space, zero-copy where the backend supports it.
	Unified
	// HostVisible is host-mapped device memory, writable without staging.
	HostVisible
)

func (h MemHint) String() string {
	switch h {
	case DeviceLocal:
		return "device_local"
	case Unified:
		return "unified"
	case HostVisible:
		return "host_visible"
	default:
		return fmt.Sprintf("memhint(%d)", int(h))
	}
}

// Usage constrains how an entry's bytes may be accessed.
type Usage int

const (
	// ReadOnly entries reject mutable span access.
	ReadOnly Usage = iota
	// ReadWrite entries allow both Get and mutable span access.
	ReadWrite
)

func (u Usage) String() string {
	switch u {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("usage(%d)", int(u))
	}
}

// DataHandle is a typed capability wrapping a DataID. The type parameter is
// erased once a handle crosses a graph boundary (a task only stores the
// DataID), but CreateDataHandle/Get use it to catch type mismatches.
type DataHandle[T any] struct {
	ID DataID
}
