//go:build darwin && metal

package metal

import "github.com/vk/taskmesh/internal/gpu"

func init() {
	gpu.RegisterBackend(gpu.BackendMetal, func(device gpu.GPUDevice, params gpu.BackendParams) (gpu.Backend, error) {
		return New(device.DeviceID)
	})
}
