package training

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-fit/logging"
)

// DeviceType identifies the kind of compute device a context refers to.
type DeviceType int

const (
	CPUDevice DeviceType = iota
	GPUDevice
)

func (d DeviceType) String() string {
	switch d {
	case CPUDevice:
		return "cpu"
	case GPUDevice:
		return "gpu"
	default:
		return "unknown"
	}
}

// Context is an opaque device placement token. One batch shard is processed
// per context.
type Context struct {
	Device DeviceType
	ID     int
}

func (c Context) String() string {
	return fmt.Sprintf("%s(%d)", c.Device, c.ID)
}

// CPU returns the general-purpose processor context.
func CPU() Context {
	return Context{Device: CPUDevice}
}

// GPU returns the accelerator context with the given index.
func GPU(id int) Context {
	return Context{Device: GPUDevice, ID: id}
}

var numGPUs int

// RegisterAccelerators declares how many accelerator devices a backend
// provides. The pure-Go build provides none.
func RegisterAccelerators(n int) {
	numGPUs = n
}

// NumGPUs returns the number of registered accelerator devices.
func NumGPUs() int {
	return numGPUs
}

// checkContexts validates a user-supplied context list or derives a default:
// one GPU if any accelerator is registered (warning when more exist), else a
// single CPU.
func checkContexts(contexts []Context, logger logging.Logger) ([]Context, error) {
	gpus := NumGPUs()

	if len(contexts) == 0 {
		if gpus > 0 {
			if gpus > 1 {
				logger.Warn("multiple GPUs available but only gpu(0) will be used by default; pass an explicit context list to use all of them",
					"available", gpus)
			}
			return []Context{GPU(0)}, nil
		}
		return []Context{CPU()}, nil
	}

	kind := contexts[0].Device
	for _, ctx := range contexts {
		if ctx.Device != kind {
			return nil, fmt.Errorf("contexts must be homogeneous (all-CPU or all-GPU), got %v", contexts)
		}
		if ctx.Device == GPUDevice && (ctx.ID < 0 || ctx.ID >= gpus) {
			available := make([]string, 0, gpus+1)
			available = append(available, CPU().String())
			for i := 0; i < gpus; i++ {
				available = append(available, GPU(i).String())
			}
			return nil, fmt.Errorf("context %s is not available, make sure your context is one of: %s",
				ctx, strings.Join(available, ", "))
		}
	}
	return append([]Context{}, contexts...), nil
}
