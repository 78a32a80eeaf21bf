package manifest

import "errors"

var (
	ErrDuplicateDataName   = errors.New("manifest: duplicate data name")
	ErrUnknownDataReference = errors.New("manifest: reference to undeclared data")
	ErrUnknownTaskFunction  = errors.New("manifest: unregistered cpu_task function")
	ErrInvalidUsage         = errors.New("manifest: invalid usage value")
	ErrInvalidMemHint       = errors.New("manifest: invalid mem_hint value")
	ErrInvalidDim3          = errors.New("manifest: invalid dim3 literal")
)
