package training

import (
	"math"
	"strings"
	"testing"

	"github.com/tsawler/go-fit/tensor"
)

func TestLossNaming(t *testing.T) {
	first := NewSoftmaxCrossEntropyLoss()
	second := NewSoftmaxCrossEntropyLoss()

	if !strings.HasPrefix(first.Name(), "softmaxcrossentropyloss") {
		t.Errorf("unexpected loss name %q", first.Name())
	}
	if first.Name() == second.Name() {
		t.Errorf("two instances share the name %q", first.Name())
	}

	// Stripping the instance suffix recovers the kind name.
	stripped := strings.TrimRight(first.Name(), "1234567890")
	if stripped != "softmaxcrossentropyloss" {
		t.Errorf("expected stripped name softmaxcrossentropyloss, got %q", stripped)
	}
}

func TestL2LossForward(t *testing.T) {
	loss := NewL2Loss()

	pred, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{1, 3})
	label, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{0, 1})

	result, err := loss.Forward(pred, label)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// 0.5 * mean([1, 4]) = 1.25
	v, err := result.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if math.Abs(float64(v.(float32))-1.25) > 1e-6 {
		t.Errorf("expected loss 1.25, got %v", v)
	}
}

func TestSoftmaxCrossEntropyLossForward(t *testing.T) {
	loss := NewSoftmaxCrossEntropyLoss()

	pred, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, make([]float32, 4))
	label, _ := tensor.NewTensor([]int{2}, tensor.Int32, []int32{0, 1})

	result, err := loss.Forward(pred, label)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if len(result.Shape) != 1 || result.Shape[0] != 2 {
		t.Fatalf("expected per-sample loss shape [2], got %v", result.Shape)
	}

	want := float32(math.Log(2))
	for i, v := range result.Data.([]float32) {
		if math.Abs(float64(v-want)) > 1e-6 {
			t.Errorf("sample %d: expected %f, got %f", i, want, v)
		}
	}
}

func TestL2LossBackward(t *testing.T) {
	loss := NewL2Loss()

	pred, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{2, 0})
	pred.SetRequiresGrad(true)
	label, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{0, 0})

	var result *tensor.Tensor
	err := func() error {
		done := tensor.Record()
		defer done()
		var err error
		result, err = loss.Forward(pred, label)
		return err
	}()
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if err := result.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d(0.5 * mean((p-l)^2))/dp = (p - l) / n
	grad := pred.Grad().Data.([]float32)
	if math.Abs(float64(grad[0]-1)) > 1e-6 || math.Abs(float64(grad[1])) > 1e-6 {
		t.Errorf("expected grad [1 0], got %v", grad)
	}
}
