package datastore

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"
)

// entry is a record in the data store. Its fields mirror §3's DataEntry.
type entry struct {
	// value holds a pointer to the live Go value (always *T for the handle's
	// T), giving it a stable address for the lifetime of the entry. For
	// alias entries it points at externally owned memory instead.
	value reflect.Value

	byteSize int
	typeSize int
	memHint  MemHint
	usage    Usage
	alias    bool

	// placeholder is true for entries created by CreateVariableKernelHandle
	// that have not yet been resolved to a concrete value.
	placeholder bool
}

func (e *entry) span() []byte {
	if e.placeholder {
		return nil
	}
	if e.byteSize == 0 {
		return nil
	}
	ptr := unsafe.Pointer(e.value.Pointer())
	if e.value.Kind() == reflect.Ptr && e.value.Elem().Kind() == reflect.Slice {
		sv := e.value.Elem()
		if sv.Len() == 0 {
			return nil
		}
		ptr = unsafe.Pointer(sv.Index(0).Addr().Pointer())
	}
	return unsafe.Slice((*byte)(ptr), e.byteSize)
}

// Store maps DataIDs to host-side values and produces byte spans for
// transfer. It is safe for concurrent use: the map itself is guarded by a
// mutex, while an individual entry's bytes are mutated only by the task that
// produces it and read only after that task's completion has been observed
// by the scheduler (the graph's output-uniqueness invariant is what makes
// this safe without a per-entry lock).
type Store struct {
	mu      sync.RWMutex
	entries map[DataID]*entry
	nextID  atomic.Int64

	deviceLocalMu sync.Mutex
	deviceLocal   []DataID
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[DataID]*entry)}
}

func sizeInfo(rv reflect.Value) (byteSize, typeSize int) {
	elem := rv.Elem()
	if elem.Kind() == reflect.Slice {
		et := elem.Type().Elem()
		typeSize = int(et.Size())
		byteSize = elem.Len() * typeSize
		return
	}
	typeSize = int(elem.Type().Size())
	byteSize = typeSize
	return
}

// CreateDataHandle moves value into stable heap storage and installs byte
// accessors over it. mem_hint == DeviceLocal entries are recorded in the
// device-local registry the runtime facade uses to size proxy buffers.
func CreateDataHandle[T any](s *Store, value T, usage Usage, hint MemHint) DataHandle[T] {
	heapVal := new(T)
	*heapVal = value
	rv := reflect.ValueOf(heapVal)
	byteSize, typeSize := sizeInfo(rv)

	id := s.register(&entry{
		value:    rv,
		byteSize: byteSize,
		typeSize: typeSize,
		memHint:  hint,
		usage:    usage,
	})
	return DataHandle[T]{ID: id}
}

// CreateRefHandle records an entry that borrows externally owned memory. The
// store never frees the pointee; the caller must keep it alive for the life
// of the graph's execution.
func CreateRefHandle[T any](s *Store, value *T, usage Usage, hint MemHint) DataHandle[T] {
	rv := reflect.ValueOf(value)
	byteSize, typeSize := sizeInfo(rv)

	id := s.register(&entry{
		value:    rv,
		byteSize: byteSize,
		typeSize: typeSize,
		memHint:  hint,
		usage:    usage,
		alias:    true,
	})
	return DataHandle[T]{ID: id}
}

// CreateVariableKernelHandle reserves a DataID for a GPU output whose host
// buffer doesn't exist yet (e.g. a dynamically sized kernel result). Mutable
// access fails with ErrPlaceholderNotResolved until StoreBytes replaces it
// with a real value.
func (s *Store) CreateVariableKernelHandle(usage Usage, hint MemHint, byteSize int) DataID {
	return s.register(&entry{
		byteSize:    byteSize,
		usage:       usage,
		memHint:     hint,
		placeholder: true,
	})
}

func (s *Store) register(e *entry) DataID {
	id := DataID(s.nextID.Add(1) - 1)

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()

	if e.memHint == DeviceLocal {
		s.deviceLocalMu.Lock()
		s.deviceLocal = append(s.deviceLocal, id)
		s.deviceLocalMu.Unlock()
	}
	return id
}

func (s *Store) lookup(id DataID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataID, id)
	}
	return e, nil
}

// Get retrieves the typed value behind handle h, failing with
// ErrTypeMismatch if the entry's recorded type differs from T.
func Get[T any](s *Store, h DataHandle[T]) (T, error) {
	var zero T
	e, err := s.lookup(h.ID)
	if err != nil {
		return zero, err
	}
	if e.placeholder {
		return zero, fmt.Errorf("%w: %s", ErrPlaceholderNotResolved, h.ID)
	}
	ptr, ok := e.value.Interface().(*T)
	if !ok {
		return zero, fmt.Errorf("%w: %s wants %T, has %s", ErrTypeMismatch, h.ID, zero, e.value.Type())
	}
	return *ptr, nil
}

// GetSpan returns a read-only byte view of the entry's memory.
func (s *Store) GetSpan(id DataID) ([]byte, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.placeholder {
		return nil, fmt.Errorf("%w: %s", ErrPlaceholderNotResolved, id)
	}
	return e.span(), nil
}

// GetSpanMut returns a mutable byte view of the entry's memory. It fails
// with ErrReadOnlyViolation for ReadOnly entries.
func (s *Store) GetSpanMut(id DataID) ([]byte, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.usage != ReadWrite {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyViolation, id)
	}
	if e.placeholder {
		return nil, fmt.Errorf("%w: %s", ErrPlaceholderNotResolved, id)
	}
	return e.span(), nil
}

// StoreBytes overwrites an entry's bytes in place, or resolves a
// placeholder created by CreateVariableKernelHandle into a concrete
// []byte-backed entry of the given size.
func (s *Store) StoreBytes(id DataID, data []byte) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	if e.placeholder {
		buf := make([]byte, len(data))
		copy(buf, data)
		rv := reflect.ValueOf(&buf)
		s.mu.Lock()
		e.value = rv
		e.byteSize = len(buf)
		e.typeSize = 1
		e.placeholder = false
		e.usage = ReadWrite
		s.mu.Unlock()
		return nil
	}
	if e.usage != ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnlyViolation, id)
	}
	dst := e.span()
	if len(dst) != len(data) {
		return fmt.Errorf("datastore: byte size mismatch for %s: have %d, want %d", id, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// StoreTyped overwrites the typed value behind a DataHandle in place.
func StoreTyped[T any](s *Store, h DataHandle[T], value T) error {
	e, err := s.lookup(h.ID)
	if err != nil {
		return err
	}
	if e.usage != ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnlyViolation, h.ID)
	}
	ptr, ok := e.value.Interface().(*T)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTypeMismatch, h.ID)
	}
	*ptr = value
	return nil
}

// ByteSize returns the total size in bytes of the entry's value. For an
// unresolved placeholder it is the byteSize given to
// CreateVariableKernelHandle.
func (s *Store) ByteSize(id DataID) (int, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.byteSize, nil
}

// TypeSize returns the element size in bytes, or the whole value's size if
// it is not a contiguous container.
func (s *Store) TypeSize(id DataID) (int, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.typeSize, nil
}

// MemHint returns the entry's recorded memory residency hint.
func (s *Store) MemHint(id DataID) (MemHint, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.memHint, nil
}

// Usage returns the entry's recorded usage (ReadOnly/ReadWrite).
func (s *Store) Usage(id DataID) (Usage, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.usage, nil
}

// IsAlias reports whether the entry borrows externally owned memory rather
// than owning a heap copy.
func (s *Store) IsAlias(id DataID) (bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	return e.alias, nil
}

// IsPlaceholder reports whether id still awaits a concrete value.
func (s *Store) IsPlaceholder(id DataID) (bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	return e.placeholder, nil
}

// DeviceLocalIDs returns every DataID registered with MemHint DeviceLocal,
// in registration order.
func (s *Store) DeviceLocalIDs() []DataID {
	s.deviceLocalMu.Lock()
	defer s.deviceLocalMu.Unlock()
	out := make([]DataID, len(s.deviceLocal))
	copy(out, s.deviceLocal)
	return out
}

// MaxDeviceLocalByteSize returns the largest byte_size recorded among
// DeviceLocal entries, used by the runtime facade to size a backend's proxy
// buffer. It returns 0 if no DeviceLocal entries exist.
func (s *Store) MaxDeviceLocalByteSize() int {
	max := 0
	for _, id := range s.DeviceLocalIDs() {
		if sz, err := s.ByteSize(id); err == nil && sz > max {
			max = sz
		}
	}
	return max
}
