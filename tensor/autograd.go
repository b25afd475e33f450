package tensor

import (
	"fmt"
)

// recording gates graph construction. Ops attach a creator only inside a
// Record scope, so forward passes outside the scope carry no autograd state.
// Training is single-threaded so a plain bool is enough.
var recording bool

// Record enables gradient recording and returns a function that restores the
// previous state. Callers should defer the returned function so tracking is
// disabled on every exit path:
//
//	done := tensor.Record()
//	defer done()
func Record() func() {
	prev := recording
	recording = true
	return func() { recording = prev }
}

// Recording reports whether a Record scope is active.
func Recording() bool {
	return recording
}

func attach(result *Tensor, op Operation, inputs ...*Tensor) {
	if !recording {
		return
	}
	requires := false
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			requires = true
			break
		}
	}
	if requires {
		result.creator = op
		result.requiresGrad = true
	}
}

// reduceGradToShape reduces a gradient to the shape of a broadcast input by
// summing over the broadcast (leading) dimensions.
func reduceGradToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}
	if len(targetShape) != 1 {
		return nil, fmt.Errorf("cannot reduce gradient of shape %v to shape %v", grad.Shape, targetShape)
	}

	inner := targetShape[0]
	if grad.NumElems%inner != 0 {
		return nil, fmt.Errorf("cannot reduce gradient of shape %v to shape %v", grad.Shape, targetShape)
	}

	result, err := Zeros(targetShape, Float32)
	if err != nil {
		return nil, err
	}
	gradData := grad.Data.([]float32)
	out := result.Data.([]float32)
	for i, v := range gradData {
		out[i%inner] += v
	}
	return result, nil
}

// AddOp implements autograd for elementwise addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// Gradient flows unchanged to both inputs, reduced where broadcasting
	// occurred in the forward pass.
	gradA, err := reduceGradToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd performs addition, linking the result into the autograd graph
// when recording.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &AddOp{inputs: []*Tensor{a, b}}, a, b)
	return result, nil
}

// SubOp implements autograd for elementwise subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	negGrad, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradToShape(negGrad, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubAutograd performs subtraction, linking the result into the autograd
// graph when recording.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &SubOp{inputs: []*Tensor{a, b}}, a, b)
	return result, nil
}

// MulOp implements autograd for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, err
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd performs elementwise multiplication, linking the result into
// the autograd graph when recording.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &MulOp{inputs: []*Tensor{a, b}}, a, b)
	return result, nil
}

// ScaleOp implements autograd for scalar multiplication.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ScaleAutograd multiplies by a scalar, linking the result into the autograd
// graph when recording.
func ScaleAutograd(a *Tensor, s float64) (*Tensor, error) {
	result, err := Scale(a, s)
	if err != nil {
		return nil, err
	}
	attach(result, &ScaleOp{inputs: []*Tensor{a}, factor: s}, a)
	return result, nil
}

// MatMulOp implements autograd for 2-D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}

	aT, err := Transpose(a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd performs matrix multiplication, linking the result into the
// autograd graph when recording.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &MatMulOp{inputs: []*Tensor{a, b}}, a, b)
	return result, nil
}

// MeanAllOp implements autograd for full-tensor mean reduction.
type MeanAllOp struct {
	inputs []*Tensor
}

func (op *MeanAllOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanAllOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	g := gradOut.Data.([]float32)[0] / float32(in.NumElems)

	grad, err := Zeros(in.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := grad.Data.([]float32)
	for i := range data {
		data[i] = g
	}
	return []*Tensor{grad}, nil
}

// MeanAllAutograd reduces to the mean of all elements, linking the result
// into the autograd graph when recording.
func MeanAllAutograd(a *Tensor) (*Tensor, error) {
	result, err := MeanAll(a)
	if err != nil {
		return nil, err
	}
	attach(result, &MeanAllOp{inputs: []*Tensor{a}}, a)
	return result, nil
}

// Backward computes gradients of this tensor with respect to every reachable
// leaf that requires them, seeding with ones. Calling it on a tensor produced
// outside a Record scope is a no-op.
func (t *Tensor) Backward() error {
	if t.creator == nil {
		return nil
	}
	if t.DType != Float32 {
		return fmt.Errorf("backward only supports Float32 tensors, got %s", t.DType)
	}

	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return err
	}

	// Topological order over the graph so every node's output gradient is
	// complete before its op runs backward.
	var order []*Tensor
	visited := map[*Tensor]bool{}
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] || n.creator == nil {
			return
		}
		visited[n] = true
		for _, in := range n.creator.Inputs() {
			visit(in)
		}
		order = append(order, n)
	}
	visit(t)

	grads := map[*Tensor]*Tensor{t: seed}
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		inGrads, err := node.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		inputs := node.creator.Inputs()
		for j, in := range inputs {
			if j >= len(inGrads) || inGrads[j] == nil {
				continue
			}
			if !in.requiresGrad && in.creator == nil {
				continue
			}
			if err := accumulate(grads, in, inGrads[j]); err != nil {
				return err
			}
			if in.requiresGrad && in.creator == nil {
				if err := accumulateLeaf(in, inGrads[j]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func accumulate(grads map[*Tensor]*Tensor, key *Tensor, g *Tensor) error {
	existing := grads[key]
	if existing == nil {
		grads[key] = g
		return nil
	}
	sum, err := Add(existing, g)
	if err != nil {
		return fmt.Errorf("gradient accumulation failed: %v", err)
	}
	grads[key] = sum
	return nil
}

func accumulateLeaf(leaf *Tensor, g *Tensor) error {
	if leaf.grad == nil {
		zero, err := Zeros(leaf.Shape, Float32)
		if err != nil {
			return err
		}
		leaf.grad = zero
	}
	dst := leaf.grad.Data.([]float32)
	src := g.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("gradient shape %v does not match parameter shape %v", g.Shape, leaf.Shape)
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// ZeroGrad resets accumulated gradients for the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}
