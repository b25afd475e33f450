package tensor

import (
	"fmt"
	"math"
)

// SoftmaxCrossEntropy computes the per-sample cross entropy of logits
// [batch, classes] against Int32 class indices [batch] or [batch, 1],
// returning a [batch] tensor.
func SoftmaxCrossEntropy(logits, labels *Tensor) (*Tensor, error) {
	_, losses, err := softmaxCrossEntropyForward(logits, labels)
	if err != nil {
		return nil, err
	}
	return losses, nil
}

// SoftmaxCrossEntropyAutograd computes per-sample cross entropy, linking the
// result into the autograd graph when recording.
func SoftmaxCrossEntropyAutograd(logits, labels *Tensor) (*Tensor, error) {
	probs, losses, err := softmaxCrossEntropyForward(logits, labels)
	if err != nil {
		return nil, err
	}
	attach(losses, &SoftmaxCrossEntropyOp{inputs: []*Tensor{logits, labels}, probs: probs}, logits)
	return losses, nil
}

// SoftmaxCrossEntropyOp implements autograd for softmax cross entropy. The
// gradient flows to the logits only; labels are not differentiable.
type SoftmaxCrossEntropyOp struct {
	inputs []*Tensor
	probs  *Tensor
}

func (op *SoftmaxCrossEntropyOp) Inputs() []*Tensor { return op.inputs }

func (op *SoftmaxCrossEntropyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	logits, labels := op.inputs[0], op.inputs[1]
	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	grad, err := Zeros(logits.Shape, Float32)
	if err != nil {
		return nil, err
	}

	probsData := op.probs.Data.([]float32)
	labelData := labels.Data.([]int32)
	gradData := grad.Data.([]float32)
	gData := gradOut.Data.([]float32)

	// d(loss_i)/d(logit_ij) = (softmax_ij - 1{j == label_i}) * gradOut_i
	for i := 0; i < batchSize; i++ {
		for j := 0; j < numClasses; j++ {
			idx := i*numClasses + j
			g := probsData[idx]
			if int(labelData[i]) == j {
				g -= 1
			}
			gradData[idx] = g * gData[i]
		}
	}
	return []*Tensor{grad, nil}, nil
}

func softmaxCrossEntropyForward(logits, labels *Tensor) (probs, losses *Tensor, err error) {
	if logits.DType != Float32 || labels.DType != Int32 {
		return nil, nil, fmt.Errorf("cross entropy requires Float32 logits and Int32 labels, got %s and %s", logits.DType, labels.DType)
	}
	if len(logits.Shape) != 2 {
		return nil, nil, fmt.Errorf("logits must be 2D [batch, classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]
	if labels.NumElems != batchSize {
		return nil, nil, fmt.Errorf("label count %d does not match batch size %d", labels.NumElems, batchSize)
	}

	logitData := logits.Data.([]float32)
	labelData := labels.Data.([]int32)

	probs, err = Zeros(logits.Shape, Float32)
	if err != nil {
		return nil, nil, err
	}
	losses, err = Zeros([]int{batchSize}, Float32)
	if err != nil {
		return nil, nil, err
	}
	probsData := probs.Data.([]float32)
	lossData := losses.Data.([]float32)

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		// Shift by the row max for numerical stability.
		maxVal := logitData[offset]
		for j := 1; j < numClasses; j++ {
			if logitData[offset+j] > maxVal {
				maxVal = logitData[offset+j]
			}
		}

		var sum float32
		for j := 0; j < numClasses; j++ {
			e := float32(math.Exp(float64(logitData[offset+j] - maxVal)))
			probsData[offset+j] = e
			sum += e
		}
		for j := 0; j < numClasses; j++ {
			probsData[offset+j] /= sum
		}

		target := labelData[i]
		if target < 0 || int(target) >= numClasses {
			return nil, nil, fmt.Errorf("label class %d out of range [0, %d)", target, numClasses)
		}
		p := probsData[offset+int(target)]
		if p < 1e-10 {
			p = 1e-10
		}
		lossData[i] = -float32(math.Log(float64(p)))
	}
	return probs, losses, nil
}
