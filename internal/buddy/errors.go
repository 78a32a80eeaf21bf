package buddy

import "errors"

var (
	// ErrOutOfMemory is returned by Allocate when no free block of sufficient
	// order exists in the slab.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrDoubleFree is returned by Free when the block it computes for the
	// request already lies inside a block recorded as free.
	ErrDoubleFree = errors.New("buddy: double free")

	// ErrInvalidMemoryClass is returned by New/NewFromSizes for a malformed
	// order range.
	ErrInvalidMemoryClass = errors.New("buddy: invalid memory class")
)
