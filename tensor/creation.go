package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor with the given shape and backing data.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	t := &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		typed, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("data must be []float32 for Float32 tensor, got %T", data)
		}
		if len(typed) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(typed), t.Shape, t.NumElems)
		}
		t.Data = typed
	case Int32:
		typed, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("data must be []int32 for Int32 tensor, got %T", data)
		}
		if len(typed) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(typed), t.Shape, t.NumElems)
		}
		t.Data = typed
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := calculateNumElements(shape)
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, n))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, n))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := calculateNumElements(shape)
	switch dtype {
	case Float32:
		data := make([]float32, n)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, data)
	case Int32:
		data := make([]int32, n)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// FromScalar creates a single-element Float32 tensor from a float64 value.
func FromScalar(value float64) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{float32(value)})
	return t
}

// Random creates a Float32 tensor with values uniformly drawn from [-1, 1).
func Random(shape []int, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return NewTensor(shape, Float32, data)
}
