package graph

import "errors"

var (
	// ErrDuplicateProducer is returned by AddTask when a task claims an
	// output ID some earlier task already produces.
	ErrDuplicateProducer = errors.New("graph: duplicate producer")

	// ErrUnfulfilledData is returned by Validate when some task's input is
	// never produced by any task in the graph.
	ErrUnfulfilledData = errors.New("graph: unfulfilled data")

	// ErrCyclic is returned by Validate when the graph over non-root nodes
	// contains a cycle.
	ErrCyclic = errors.New("graph: cyclic")
)
