package tensor

import (
	"fmt"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

// broadcastable reports whether b can be broadcast against a. Supported forms
// are identical shapes and a 1-D b matching a's trailing dimension (the bias
// case).
func broadcastable(a, b *Tensor) bool {
	if shapesEqual(a.Shape, b.Shape) {
		return true
	}
	if len(b.Shape) == 1 && len(a.Shape) > 1 && b.Shape[0] == a.Shape[len(a.Shape)-1] {
		return true
	}
	return false
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

// Add performs elementwise addition. The second operand may be a 1-D tensor
// matching the first operand's trailing dimension.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "addition", func(a, b float32) float32 { return a + b })
}

// Sub performs elementwise subtraction.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "subtraction", func(a, b float32) float32 { return a - b })
}

// Mul performs elementwise multiplication.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "multiplication", func(a, b float32) float32 { return a * b })
}

func elementwise(t1, t2 *Tensor, opName string, op func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("%s failed: %v", opName, err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 tensors, got %s", opName, t1.DType)
	}
	if !broadcastable(t1, t2) {
		return nil, fmt.Errorf("%s failed: shapes %v and %v are not compatible", opName, t1.Shape, t2.Shape)
	}

	result, err := Zeros(t1.Shape, t1.DType)
	if err != nil {
		return nil, err
	}

	aData := t1.Data.([]float32)
	bData := t2.Data.([]float32)
	out := result.Data.([]float32)

	if shapesEqual(t1.Shape, t2.Shape) {
		for i := range out {
			out[i] = op(aData[i], bData[i])
		}
		return result, nil
	}

	// Trailing-dimension broadcast.
	inner := t2.Shape[0]
	for i := range out {
		out[i] = op(aData[i], bData[i%inner])
	}
	return result, nil
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("scale only supports Float32 tensors, got %s", t.DType)
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := range out {
		out[i] = data[i] * float32(s)
	}
	return result, nil
}

// MeanAll reduces a tensor to the mean of all its elements, as a [1] tensor.
func MeanAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("mean only supports Float32 tensors, got %s", t.DType)
	}

	data := t.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}
	return NewTensor([]int{1}, Float32, []float32{sum / float32(t.NumElems)})
}

// Split shards a tensor into parts equal slices along the given axis. The
// axis size must divide evenly by parts. With a single part the original
// tensor is returned unsliced.
func Split(t *Tensor, parts, axis int) ([]*Tensor, error) {
	if parts <= 0 {
		return nil, fmt.Errorf("parts must be positive, got %d", parts)
	}
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("axis %d is invalid for tensor with shape %v", axis, t.Shape)
	}
	if parts == 1 {
		return []*Tensor{t}, nil
	}
	if t.Shape[axis]%parts != 0 {
		return nil, fmt.Errorf("axis %d of shape %v cannot be split evenly into %d parts", axis, t.Shape, parts)
	}

	partShape := append([]int{}, t.Shape...)
	partShape[axis] = t.Shape[axis] / parts

	// Row-major copy: outer runs over dimensions before the axis, block is
	// one contiguous run of a single part at a fixed outer position.
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= t.Shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	block := partShape[axis] * inner

	result := make([]*Tensor, parts)
	for p := 0; p < parts; p++ {
		part, err := Zeros(partShape, t.DType)
		if err != nil {
			return nil, err
		}
		for o := 0; o < outer; o++ {
			srcStart := o*t.Shape[axis]*inner + p*block
			dstStart := o * block
			switch t.DType {
			case Float32:
				copy(part.Data.([]float32)[dstStart:dstStart+block], t.Data.([]float32)[srcStart:srcStart+block])
			case Int32:
				copy(part.Data.([]int32)[dstStart:dstStart+block], t.Data.([]int32)[srcStart:srcStart+block])
			default:
				return nil, fmt.Errorf("unsupported dtype for split: %s", t.DType)
			}
		}
		result[p] = part
	}
	return result, nil
}
