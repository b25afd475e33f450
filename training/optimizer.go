package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-fit/tensor"
)

// Optimizer is the trainer collaborator: it applies one parameter update per
// training batch. Step scales the accumulated gradients by the total batch
// size across shards.
type Optimizer interface {
	Step(batchSize int) error
	ZeroGrad()
	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD implements stochastic gradient descent with optional momentum and
// weight decay, bound to a model's trainable parameters.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[*tensor.Tensor][]float32
}

// NewSGD creates a new SGD optimizer over the given parameters.
func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step. Gradients are rescaled by
// 1/batchSize so the update is invariant to how the batch was sharded.
func (sgd *SGD) Step(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	rescale := 1.0 / float64(batchSize)

	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d update failed: %v", i, err)
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d gradient read failed: %v", i, err)
		}

		var velocity []float32
		if sgd.momentum > 0 {
			velocity = sgd.velocities[param]
			if velocity == nil {
				velocity = make([]float32, len(paramData))
				sgd.velocities[param] = velocity
			}
		}

		for j := range paramData {
			update := float32(rescale)*gradData[j] + float32(sgd.weightDecay)*paramData[j]
			if velocity != nil {
				velocity[j] = float32(sgd.momentum)*velocity[j] + update
				update = velocity[j]
			}
			paramData[j] -= float32(sgd.learningRate) * update
		}
	}
	return nil
}

// ZeroGrad resets the gradients of all bound parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// LearningRate returns the current learning rate.
func (sgd *SGD) LearningRate() float64 {
	return sgd.learningRate
}

// SetLearningRate sets the learning rate.
func (sgd *SGD) SetLearningRate(lr float64) {
	sgd.learningRate = lr
}

// AdamConfig holds Adam hyperparameters. Zero values select the usual
// defaults.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns the standard Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	parameters []*tensor.Tensor
	config     AdamConfig
	stepCount  int
	momentum   map[*tensor.Tensor][]float32
	variance   map[*tensor.Tensor][]float32
}

// NewAdam creates an Adam optimizer over the given parameters. Unset config
// fields fall back to DefaultAdamConfig values.
func NewAdam(parameters []*tensor.Tensor, config AdamConfig) *Adam {
	defaults := DefaultAdamConfig()
	if config.LearningRate == 0 {
		config.LearningRate = defaults.LearningRate
	}
	if config.Beta1 == 0 {
		config.Beta1 = defaults.Beta1
	}
	if config.Beta2 == 0 {
		config.Beta2 = defaults.Beta2
	}
	if config.Epsilon == 0 {
		config.Epsilon = defaults.Epsilon
	}

	return &Adam{
		parameters: parameters,
		config:     config,
		momentum:   make(map[*tensor.Tensor][]float32),
		variance:   make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step with bias correction. Gradients
// are rescaled by 1/batchSize before the moment updates.
func (a *Adam) Step(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	a.stepCount++
	rescale := 1.0 / float64(batchSize)
	correction1 := 1 - math.Pow(a.config.Beta1, float64(a.stepCount))
	correction2 := 1 - math.Pow(a.config.Beta2, float64(a.stepCount))

	for i, param := range a.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d update failed: %v", i, err)
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d gradient read failed: %v", i, err)
		}

		m := a.momentum[param]
		if m == nil {
			m = make([]float32, len(paramData))
			a.momentum[param] = m
		}
		v := a.variance[param]
		if v == nil {
			v = make([]float32, len(paramData))
			a.variance[param] = v
		}

		for j := range paramData {
			g := float64(gradData[j])*rescale + a.config.WeightDecay*float64(paramData[j])

			m[j] = float32(a.config.Beta1*float64(m[j]) + (1-a.config.Beta1)*g)
			v[j] = float32(a.config.Beta2*float64(v[j]) + (1-a.config.Beta2)*g*g)

			mHat := float64(m[j]) / correction1
			vHat := float64(v[j]) / correction2
			paramData[j] -= float32(a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon))
		}
	}
	return nil
}

// ZeroGrad resets the gradients of all bound parameters.
func (a *Adam) ZeroGrad() {
	tensor.ZeroGrad(a.parameters)
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.config.LearningRate
}

// SetLearningRate sets the learning rate.
func (a *Adam) SetLearningRate(lr float64) {
	a.config.LearningRate = lr
}
