package tensor

import (
	"fmt"
)

// MatMul performs 2-D matrix multiplication.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, fmt.Errorf("matmul failed: %v", err)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("matmul only supports Float32 tensors, got %s", t1.DType)
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	result, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}

	aData := t1.Data.([]float32)
	bData := t2.Data.([]float32)
	out := result.Data.([]float32)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			a := aData[i*k+l]
			if a == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out[i*n+j] += a * bData[l*n+j]
			}
		}
	}
	return result, nil
}

// Transpose swaps the two dimensions of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("transpose only supports Float32 tensors, got %s", t.DType)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result, err := Zeros([]int{cols, rows}, Float32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return result, nil
}
