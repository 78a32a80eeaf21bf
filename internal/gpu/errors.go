package gpu

import "errors"

var (
	// ErrBackendUnavailable is returned by a backend constructor when its
	// driver cannot be initialized on the current host (no runtime, no
	// device present), and by New when not even the software backend is
	// registered.
	ErrBackendUnavailable = errors.New("gpu: backend unavailable")

	// ErrGhostBuffer is returned for operations on a BufferHandle that has
	// already been deallocated or was never issued by this backend.
	ErrGhostBuffer = errors.New("gpu: ghost buffer")

	// ErrInvalidDispatchType is returned by ExecuteBatch for a
	// DispatchType the backend does not recognize.
	ErrInvalidDispatchType = errors.New("gpu: invalid dispatch type")

	// ErrCopyFailure wraps a failed host/device transfer.
	ErrCopyFailure = errors.New("gpu: copy failure")

	// ErrKernelFailure wraps a kernel that reported a non-success result.
	ErrKernelFailure = errors.New("gpu: kernel failure")
)
