package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-fit/tensor"
)

// Global random source for deterministic weight initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods the model collaborator must implement.
// Forward is called once per batch shard.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
}

// Initializer fills a parameter tensor with starting values.
type Initializer interface {
	Init(param *tensor.Tensor) error
}

// ParamInitializer is an optional Module capability. Modules that need
// custom initialization order or per-parameter rules implement it; otherwise
// the estimator applies the initializer to each parameter directly.
type ParamInitializer interface {
	InitParams(init Initializer) error
}

// Uniform initializes parameters uniformly in [-Scale, Scale].
type Uniform struct {
	Scale float64
}

// Init fills the parameter with uniform values.
func (u Uniform) Init(param *tensor.Tensor) error {
	scale := u.Scale
	if scale == 0 {
		scale = 0.07
	}
	data, err := param.GetFloat32Data()
	if err != nil {
		return fmt.Errorf("uniform init failed: %v", err)
	}
	for i := range data {
		data[i] = float32((globalRng.Float64()*2 - 1) * scale)
	}
	return nil
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewLinear creates a new Linear layer with Xavier-uniform weights.
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{weight: weight}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear forward failed: %v", err)
	}
	if l.bias != nil {
		out, err = tensor.AddAutograd(out, l.bias)
		if err != nil {
			return nil, fmt.Errorf("linear bias addition failed: %v", err)
		}
	}
	return out, nil
}

// Parameters returns the trainable parameters of the layer.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

// ReLU applies the rectified linear unit elementwise. It has no trainable
// parameters.
type ReLU struct{}

// Forward applies max(0, x).
func (ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.ReLUAutograd(input)
	if err != nil {
		return nil, fmt.Errorf("relu forward failed: %v", err)
	}
	return out, nil
}

// Parameters returns nil; ReLU has nothing to train.
func (ReLU) Parameters() []*tensor.Tensor {
	return nil
}

// Sigmoid applies the logistic function elementwise. It has no trainable
// parameters.
type Sigmoid struct{}

// Forward applies 1/(1+exp(-x)).
func (Sigmoid) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.SigmoidAutograd(input)
	if err != nil {
		return nil, fmt.Errorf("sigmoid forward failed: %v", err)
	}
	return out, nil
}

// Parameters returns nil; Sigmoid has nothing to train.
func (Sigmoid) Parameters() []*tensor.Tensor {
	return nil
}

// Sequential chains modules, feeding each one's output into the next.
type Sequential struct {
	modules []Module
}

// NewSequential creates a Sequential container over the given modules.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward runs the input through every module in order.
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	for i, m := range s.modules {
		var err error
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("sequential module %d forward failed: %v", i, err)
		}
	}
	return out, nil
}

// Parameters returns the trainable parameters of all contained modules.
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Identity passes input through unchanged. It has no trainable parameters.
type Identity struct{}

// Forward returns the input tensor as-is.
func (Identity) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return input, nil
}

// Parameters returns nil; Identity has nothing to train.
func (Identity) Parameters() []*tensor.Tensor {
	return nil
}
