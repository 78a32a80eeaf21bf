package datastore

import "errors"

// ErrUnknownDataID is returned when an operation references a DataID that
// was never registered with the store.
var ErrUnknownDataID = errors.New("datastore: unknown data id")

// ErrTypeMismatch is returned by Get when the recorded type of an entry
// differs from the type requested by the caller.
var ErrTypeMismatch = errors.New("datastore: type mismatch")

// ErrReadOnlyViolation is returned when a mutable byte span is requested for
// an entry whose usage is ReadOnly.
var ErrReadOnlyViolation = errors.New("datastore: read-only violation")

// ErrPlaceholderNotResolved is returned when a variable-kernel placeholder's
// bytes are accessed before a real value has been stored into it.
var ErrPlaceholderNotResolved = errors.New("datastore: placeholder not resolved")
