package software

import (
	"github.com/vk/taskmesh/internal/datastore"
	"github.com/vk/taskmesh/internal/gpu"
)

// init registers the software backend as the factory for gpu.BackendSoftware.
// Any program that imports this package for side effects (internal/runtime
// does, unconditionally) can build it through gpu.New without referencing
// this package's exported names directly.
func init() {
	gpu.RegisterBackend(gpu.BackendSoftware, func(device gpu.GPUDevice, params gpu.BackendParams) (gpu.Backend, error) {
		cfg := Config{}
		if params.MaxDeviceLocalBytes > 0 {
			cfg.SlabSize = map[datastore.MemHint]int{
				datastore.DeviceLocal: params.MaxDeviceLocalBytes,
			}
		}
		return New(cfg)
	})
}
