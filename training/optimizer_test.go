package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-fit/tensor"
)

// paramWithGrad builds a trainable parameter carrying an accumulated gradient.
func paramWithGrad(t *testing.T, values, grads []float32) *tensor.Tensor {
	t.Helper()

	param, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, values)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	param.SetRequiresGrad(true)

	done := tensor.Record()
	gradSource, err := tensor.NewTensor([]int{len(grads)}, tensor.Float32, grads)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	out, err := tensor.MulAutograd(param, gradSource)
	done()
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if err := out.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	return param
}

func TestSGDStep(t *testing.T) {
	t.Run("rescales by batch size", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1}, []float32{8})
		sgd := NewSGD([]*tensor.Tensor{param}, 0.5, 0, 0)

		// grad 8 rescaled by 1/4 gives 2; update is 1 - 0.5*2 = 0.
		if err := sgd.Step(4); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if got := param.Data.([]float32)[0]; math.Abs(float64(got)) > 1e-6 {
			t.Errorf("expected param 0, got %f", got)
		}
	})

	t.Run("momentum accumulates velocity", func(t *testing.T) {
		param := paramWithGrad(t, []float32{0}, []float32{1})
		sgd := NewSGD([]*tensor.Tensor{param}, 1, 0.9, 0)

		if err := sgd.Step(1); err != nil {
			t.Fatalf("first Step failed: %v", err)
		}
		// velocity = 1, param = -1
		if got := param.Data.([]float32)[0]; math.Abs(float64(got+1)) > 1e-6 {
			t.Errorf("expected param -1 after first step, got %f", got)
		}

		if err := sgd.Step(1); err != nil {
			t.Fatalf("second Step failed: %v", err)
		}
		// velocity = 0.9 + 1 = 1.9, param = -1 - 1.9 = -2.9
		if got := param.Data.([]float32)[0]; math.Abs(float64(got+2.9)) > 1e-5 {
			t.Errorf("expected param -2.9 after second step, got %f", got)
		}
	})

	t.Run("weight decay", func(t *testing.T) {
		param := paramWithGrad(t, []float32{10}, []float32{0})
		sgd := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0.5)

		// update = 0 + 0.5*10 = 5, param = 10 - 0.1*5 = 9.5
		if err := sgd.Step(1); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if got := param.Data.([]float32)[0]; math.Abs(float64(got-9.5)) > 1e-5 {
			t.Errorf("expected param 9.5, got %f", got)
		}
	})

	t.Run("invalid batch size", func(t *testing.T) {
		sgd := NewSGD(nil, 0.1, 0, 0)
		if err := sgd.Step(0); err == nil {
			t.Error("expected error for zero batch size")
		}
	})

	t.Run("skips params without gradients", func(t *testing.T) {
		param, _ := tensor.NewTensor([]int{1}, tensor.Float32, []float32{5})
		param.SetRequiresGrad(true)
		sgd := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0)

		if err := sgd.Step(1); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if got := param.Data.([]float32)[0]; got != 5 {
			t.Errorf("param without gradient changed: %f", got)
		}
	})
}

func TestSGDZeroGrad(t *testing.T) {
	param := paramWithGrad(t, []float32{1}, []float32{3})
	sgd := NewSGD([]*tensor.Tensor{param}, 0.1, 0, 0)

	sgd.ZeroGrad()
	if got := param.Grad().Data.([]float32)[0]; got != 0 {
		t.Errorf("expected zeroed gradient, got %f", got)
	}
}

func TestAdamStep(t *testing.T) {
	t.Run("first step moves by about the learning rate", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1}, []float32{0.5})
		adam := NewAdam([]*tensor.Tensor{param}, AdamConfig{LearningRate: 0.1})

		if err := adam.Step(1); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		// Bias correction makes the first update ~lr * sign(grad).
		got := param.Data.([]float32)[0]
		if math.Abs(float64(got)-0.9) > 1e-4 {
			t.Errorf("expected param near 0.9, got %f", got)
		}
	})

	t.Run("defaults fill unset config fields", func(t *testing.T) {
		adam := NewAdam(nil, AdamConfig{})
		if lr := adam.LearningRate(); lr != 0.001 {
			t.Errorf("expected default lr 0.001, got %f", lr)
		}
	})

	t.Run("invalid batch size", func(t *testing.T) {
		adam := NewAdam(nil, DefaultAdamConfig())
		if err := adam.Step(-1); err == nil {
			t.Error("expected error for negative batch size")
		}
	})

	t.Run("converges on a quadratic", func(t *testing.T) {
		// Minimize f(x) = x^2 starting at 3.
		param, _ := tensor.NewTensor([]int{1}, tensor.Float32, []float32{3})
		param.SetRequiresGrad(true)
		adam := NewAdam([]*tensor.Tensor{param}, AdamConfig{LearningRate: 0.1})

		for i := 0; i < 200; i++ {
			adam.ZeroGrad()
			var out *tensor.Tensor
			err := func() error {
				done := tensor.Record()
				defer done()
				var err error
				out, err = tensor.MulAutograd(param, param)
				return err
			}()
			if err != nil {
				t.Fatalf("forward failed: %v", err)
			}
			if err := out.Backward(); err != nil {
				t.Fatalf("Backward failed: %v", err)
			}
			if err := adam.Step(1); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
		}

		if got := param.Data.([]float32)[0]; math.Abs(float64(got)) > 0.05 {
			t.Errorf("expected convergence near 0, got %f", got)
		}
	})
}

func TestSGDLearningRate(t *testing.T) {
	sgd := NewSGD(nil, 0.01, 0, 0)
	if lr := sgd.LearningRate(); lr != 0.01 {
		t.Errorf("expected lr 0.01, got %f", lr)
	}
	sgd.SetLearningRate(0.1)
	if lr := sgd.LearningRate(); lr != 0.1 {
		t.Errorf("expected lr 0.1, got %f", lr)
	}
}
