package scheduler

import "errors"

// ErrTaskFailed is returned by ExecuteGraph wrapping the first error any
// task body reported. Every other task still runs to completion — per §9's
// decision to keep the graph draining rather than abort the instant one
// task fails — but the batch as a whole is reported as failed.
var ErrTaskFailed = errors.New("scheduler: task failed")
