package training

import (
	"fmt"

	"github.com/tsawler/go-fit/tensor"
)

// Loss is the objective-function collaborator. Forward produces a loss tensor
// from one prediction shard and its labels; the instance name is used to
// derive the default loss metric name.
type Loss interface {
	Name() string
	Forward(pred, label *tensor.Tensor) (*tensor.Tensor, error)
}

// Loss instances of the same kind get distinct names with a numeric suffix,
// which the default metric naming strips again.
var lossCounters = map[string]int{}

func nextLossName(kind string) string {
	n := lossCounters[kind]
	lossCounters[kind]++
	return fmt.Sprintf("%s%d", kind, n)
}

// SoftmaxCrossEntropyLoss computes per-sample softmax cross entropy between
// logits [batch, classes] and Int32 class labels.
type SoftmaxCrossEntropyLoss struct {
	name string
}

// NewSoftmaxCrossEntropyLoss creates a softmax cross entropy loss instance.
func NewSoftmaxCrossEntropyLoss() *SoftmaxCrossEntropyLoss {
	return &SoftmaxCrossEntropyLoss{name: nextLossName("softmaxcrossentropyloss")}
}

// Name returns the loss instance name.
func (l *SoftmaxCrossEntropyLoss) Name() string {
	return l.name
}

// Forward computes the per-sample loss tensor [batch].
func (l *SoftmaxCrossEntropyLoss) Forward(pred, label *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.SoftmaxCrossEntropyAutograd(pred, label)
	if err != nil {
		return nil, fmt.Errorf("softmax cross entropy failed: %v", err)
	}
	return loss, nil
}

// L2Loss computes 0.5 * mean((pred - label)^2) as a single-element tensor.
type L2Loss struct {
	name string
}

// NewL2Loss creates an L2 loss instance.
func NewL2Loss() *L2Loss {
	return &L2Loss{name: nextLossName("l2loss")}
}

// Name returns the loss instance name.
func (l *L2Loss) Name() string {
	return l.name
}

// Forward computes the scalar loss tensor.
func (l *L2Loss) Forward(pred, label *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(pred, label)
	if err != nil {
		return nil, fmt.Errorf("l2 loss failed: %v", err)
	}
	sq, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("l2 loss failed: %v", err)
	}
	mean, err := tensor.MeanAllAutograd(sq)
	if err != nil {
		return nil, fmt.Errorf("l2 loss failed: %v", err)
	}
	loss, err := tensor.ScaleAutograd(mean, 0.5)
	if err != nil {
		return nil, fmt.Errorf("l2 loss failed: %v", err)
	}
	return loss, nil
}
