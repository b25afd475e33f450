package tensor

import (
	"math"
	"testing"
)

func TestRecordScope(t *testing.T) {
	t.Run("restores previous state", func(t *testing.T) {
		if Recording() {
			t.Fatal("recording should be off at test start")
		}
		done := Record()
		if !Recording() {
			t.Error("recording should be on inside scope")
		}
		done()
		if Recording() {
			t.Error("recording should be off after scope ends")
		}
	})

	t.Run("nested scopes", func(t *testing.T) {
		outer := Record()
		inner := Record()
		inner()
		if !Recording() {
			t.Error("ending the inner scope should keep the outer active")
		}
		outer()
		if Recording() {
			t.Error("recording should be off after both scopes end")
		}
	})

	t.Run("no graph outside scope", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
		a.SetRequiresGrad(true)
		b, _ := NewTensor([]int{2}, Float32, []float32{3, 4})

		result, err := AddAutograd(a, b)
		if err != nil {
			t.Fatalf("AddAutograd failed: %v", err)
		}

		// Backward on an untracked tensor is a no-op.
		if err := result.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if a.Grad() != nil {
			t.Error("gradient should not flow outside a Record scope")
		}
	})
}

func TestBackwardAdd(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	a.SetRequiresGrad(true)
	b, _ := NewTensor([]int{2}, Float32, []float32{3, 4})
	b.SetRequiresGrad(true)

	done := Record()
	result, err := AddAutograd(a, b)
	done()
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}

	if err := result.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for i, g := range a.Grad().Data.([]float32) {
		if !floatsClose(g, 1) {
			t.Errorf("a grad element %d: expected 1, got %f", i, g)
		}
	}
	for i, g := range b.Grad().Data.([]float32) {
		if !floatsClose(g, 1) {
			t.Errorf("b grad element %d: expected 1, got %f", i, g)
		}
	}
}

func TestBackwardLinearChain(t *testing.T) {
	// y = mean(x @ w + b): check all three leaf gradients.
	x, _ := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	w, _ := NewTensor([]int{2, 1}, Float32, []float32{0.5, -0.5})
	w.SetRequiresGrad(true)
	bias, _ := NewTensor([]int{1}, Float32, []float32{0.1})
	bias.SetRequiresGrad(true)

	var mean *Tensor
	err := func() error {
		done := Record()
		defer done()
		prod, err := MatMulAutograd(x, w)
		if err != nil {
			return err
		}
		sum, err := AddAutograd(prod, bias)
		if err != nil {
			return err
		}
		mean, err = MeanAllAutograd(sum)
		return err
	}()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	if err := mean.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d(mean)/d(w) = x^T @ (1/2 ones) = [[2], [3]]
	wGrad := w.Grad().Data.([]float32)
	if !floatsClose(wGrad[0], 2) || !floatsClose(wGrad[1], 3) {
		t.Errorf("expected w grad [2 3], got %v", wGrad)
	}

	// Bias grad sums over the batch: 1/2 + 1/2 = 1
	bGrad := bias.Grad().Data.([]float32)
	if !floatsClose(bGrad[0], 1) {
		t.Errorf("expected bias grad 1, got %f", bGrad[0])
	}
}

func TestGradientAccumulation(t *testing.T) {
	a, _ := NewTensor([]int{1}, Float32, []float32{2})
	a.SetRequiresGrad(true)
	b, _ := NewTensor([]int{1}, Float32, []float32{3})

	run := func() *Tensor {
		done := Record()
		defer done()
		result, err := MulAutograd(a, b)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		return result
	}

	if err := run().Backward(); err != nil {
		t.Fatalf("first Backward failed: %v", err)
	}
	if err := run().Backward(); err != nil {
		t.Fatalf("second Backward failed: %v", err)
	}

	// Two backward passes accumulate, yielding d/da = 3 twice.
	if g := a.Grad().Data.([]float32)[0]; !floatsClose(g, 6) {
		t.Errorf("expected accumulated grad 6, got %f", g)
	}

	ZeroGrad([]*Tensor{a})
	if g := a.Grad().Data.([]float32)[0]; g != 0 {
		t.Errorf("expected zeroed grad, got %f", g)
	}
}

func TestSoftmaxCrossEntropyForward(t *testing.T) {
	t.Run("uniform logits", func(t *testing.T) {
		logits, _ := NewTensor([]int{2, 4}, Float32, make([]float32, 8))
		labels, _ := NewTensor([]int{2}, Int32, []int32{0, 3})

		losses, err := SoftmaxCrossEntropy(logits, labels)
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		// Uniform distribution over 4 classes: loss = ln(4) per sample.
		want := float32(math.Log(4))
		for i, v := range losses.Data.([]float32) {
			if !floatsClose(v, want) {
				t.Errorf("sample %d: expected %f, got %f", i, want, v)
			}
		}
	})

	t.Run("label out of range", func(t *testing.T) {
		logits, _ := NewTensor([]int{1, 2}, Float32, []float32{0, 0})
		labels, _ := NewTensor([]int{1}, Int32, []int32{5})
		if _, err := SoftmaxCrossEntropy(logits, labels); err == nil {
			t.Error("expected error for out-of-range label")
		}
	})

	t.Run("label count mismatch", func(t *testing.T) {
		logits, _ := NewTensor([]int{2, 2}, Float32, make([]float32, 4))
		labels, _ := NewTensor([]int{3}, Int32, []int32{0, 1, 0})
		if _, err := SoftmaxCrossEntropy(logits, labels); err == nil {
			t.Error("expected error for label count mismatch")
		}
	})
}

func TestSoftmaxCrossEntropyBackward(t *testing.T) {
	logits, _ := NewTensor([]int{1, 2}, Float32, []float32{0, 0})
	logits.SetRequiresGrad(true)
	labels, _ := NewTensor([]int{1}, Int32, []int32{1})

	done := Record()
	losses, err := SoftmaxCrossEntropyAutograd(logits, labels)
	done()
	if err != nil {
		t.Fatalf("SoftmaxCrossEntropyAutograd failed: %v", err)
	}

	if err := losses.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Softmax is [0.5 0.5]; subtracting the one-hot target yields
	// [0.5 -0.5].
	grad := logits.Grad().Data.([]float32)
	if !floatsClose(grad[0], 0.5) || !floatsClose(grad[1], -0.5) {
		t.Errorf("expected grad [0.5 -0.5], got %v", grad)
	}
}
