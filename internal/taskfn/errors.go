package taskfn

import "errors"

var ErrScaleFactorNotScalar = errors.New("taskfn: scale factor input is not a single value")
