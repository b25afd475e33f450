package tensor

import (
	"fmt"
	"math"
)

// ReLU computes max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("relu only supports Float32 tensors, got %s", t.DType)
	}

	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i, v := range data {
		if v > 0 {
			out[i] = v
		}
	}
	return result, nil
}

// ReLUOp implements autograd for the rectified linear unit.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	grad, err := Zeros(in.Shape, Float32)
	if err != nil {
		return nil, err
	}

	inData := in.Data.([]float32)
	gData := gradOut.Data.([]float32)
	out := grad.Data.([]float32)
	for i, v := range inData {
		if v > 0 {
			out[i] = gData[i]
		}
	}
	return []*Tensor{grad}, nil
}

// ReLUAutograd applies the rectified linear unit, linking the result into the
// autograd graph when recording.
func ReLUAutograd(t *Tensor) (*Tensor, error) {
	result, err := ReLU(t)
	if err != nil {
		return nil, err
	}
	attach(result, &ReLUOp{inputs: []*Tensor{t}}, t)
	return result, nil
}

// Sigmoid computes 1/(1+exp(-x)) elementwise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("sigmoid only supports Float32 tensors, got %s", t.DType)
	}

	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i, v := range data {
		out[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return result, nil
}

// SigmoidOp implements autograd for the logistic function. The forward
// output is cached so the backward pass reuses it.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Zeros(op.inputs[0].Shape, Float32)
	if err != nil {
		return nil, err
	}

	outData := op.output.Data.([]float32)
	gData := gradOut.Data.([]float32)
	out := grad.Data.([]float32)

	// d(sigmoid)/dx = sigmoid * (1 - sigmoid)
	for i, s := range outData {
		out[i] = gData[i] * s * (1 - s)
	}
	return []*Tensor{grad}, nil
}

// SigmoidAutograd applies the logistic function, linking the result into the
// autograd graph when recording.
func SigmoidAutograd(t *Tensor) (*Tensor, error) {
	result, err := Sigmoid(t)
	if err != nil {
		return nil, err
	}
	attach(result, &SigmoidOp{inputs: []*Tensor{t}, output: result}, t)
	return result, nil
}
