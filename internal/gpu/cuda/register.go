//go:build cuda

package cuda

import "github.com/vk/taskmesh/internal/gpu"

func init() {
	gpu.RegisterBackend(gpu.BackendCUDA, func(device gpu.GPUDevice, params gpu.BackendParams) (gpu.Backend, error) {
		return New(device.DeviceID)
	})
}
