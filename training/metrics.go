package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-fit/tensor"
)

// EvalMetric is a named, resettable accumulator summarizing model performance
// over processed batches. Update receives one label and one prediction tensor
// per batch shard.
type EvalMetric interface {
	Name() string
	SetName(name string)
	Update(labels, preds []*tensor.Tensor) error
	Reset()
	Get() (string, float64)
	Clone() EvalMetric
}

type baseMetric struct {
	name  string
	sum   float64
	count int
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) SetName(name string) {
	m.name = name
}

func (m *baseMetric) Reset() {
	m.sum = 0
	m.count = 0
}

func (m *baseMetric) Get() (string, float64) {
	if m.count == 0 {
		return m.name, math.NaN()
	}
	return m.name, m.sum / float64(m.count)
}

// Accuracy measures the fraction of argmax predictions matching Int32 class
// labels.
type Accuracy struct {
	baseMetric
}

// NewAccuracy creates an accuracy metric.
func NewAccuracy() *Accuracy {
	return &Accuracy{baseMetric{name: "accuracy"}}
}

// Update accumulates correct predictions over the given shards.
func (a *Accuracy) Update(labels, preds []*tensor.Tensor) error {
	if len(labels) != len(preds) {
		return fmt.Errorf("accuracy update requires matching label and prediction counts, got %d and %d", len(labels), len(preds))
	}
	for i := range preds {
		correct, total, err := countCorrect(preds[i], labels[i])
		if err != nil {
			return err
		}
		a.sum += float64(correct)
		a.count += total
	}
	return nil
}

// Clone returns an independent zero-state copy.
func (a *Accuracy) Clone() EvalMetric {
	return &Accuracy{baseMetric{name: a.name}}
}

func countCorrect(pred, label *tensor.Tensor) (int, int, error) {
	if pred.DType != tensor.Float32 || label.DType != tensor.Int32 {
		return 0, 0, fmt.Errorf("accuracy requires Float32 predictions and Int32 labels, got %s and %s", pred.DType, label.DType)
	}
	if len(pred.Shape) != 2 {
		return 0, 0, fmt.Errorf("accuracy requires 2D predictions [batch, classes], got shape %v", pred.Shape)
	}

	batchSize := pred.Shape[0]
	numClasses := pred.Shape[1]
	if label.NumElems != batchSize {
		return 0, 0, fmt.Errorf("batch size mismatch: predictions %d, labels %d", batchSize, label.NumElems)
	}

	predData := pred.Data.([]float32)
	labelData := label.Data.([]int32)

	correct := 0
	for i := 0; i < batchSize; i++ {
		maxIdx := 0
		maxVal := predData[i*numClasses]
		for j := 1; j < numClasses; j++ {
			if predData[i*numClasses+j] > maxVal {
				maxVal = predData[i*numClasses+j]
				maxIdx = j
			}
		}
		if int32(maxIdx) == labelData[i] {
			correct++
		}
	}
	return correct, batchSize, nil
}

// LossMetric is a running average over loss tensor elements. The batch
// executor updates it with per-shard loss tensors instead of labels and
// predictions.
type LossMetric struct {
	baseMetric
}

// NewLossMetric creates a loss metric with the given name.
func NewLossMetric(name string) *LossMetric {
	if name == "" {
		name = "loss"
	}
	return &LossMetric{baseMetric{name: name}}
}

// Update accumulates the elements of each loss tensor. Labels are ignored.
func (l *LossMetric) Update(_, losses []*tensor.Tensor) error {
	for _, loss := range losses {
		data, err := loss.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("loss metric update failed: %v", err)
		}
		for _, v := range data {
			l.sum += float64(v)
		}
		l.count += loss.NumElems
	}
	return nil
}

// Clone returns an independent zero-state copy.
func (l *LossMetric) Clone() EvalMetric {
	return &LossMetric{baseMetric{name: l.name}}
}

// MAE is the running mean absolute error between predictions and Float32
// labels.
type MAE struct {
	baseMetric
}

// NewMAE creates a mean-absolute-error metric.
func NewMAE() *MAE {
	return &MAE{baseMetric{name: "mae"}}
}

// Update accumulates absolute errors over the given shards.
func (m *MAE) Update(labels, preds []*tensor.Tensor) error {
	return updateElementwise(&m.baseMetric, labels, preds, func(p, l float32) float64 {
		return math.Abs(float64(p - l))
	})
}

// Clone returns an independent zero-state copy.
func (m *MAE) Clone() EvalMetric {
	return &MAE{baseMetric{name: m.name}}
}

// MSE is the running mean squared error between predictions and Float32
// labels.
type MSE struct {
	baseMetric
}

// NewMSE creates a mean-squared-error metric.
func NewMSE() *MSE {
	return &MSE{baseMetric{name: "mse"}}
}

// Update accumulates squared errors over the given shards.
func (m *MSE) Update(labels, preds []*tensor.Tensor) error {
	return updateElementwise(&m.baseMetric, labels, preds, func(p, l float32) float64 {
		d := float64(p - l)
		return d * d
	})
}

// Clone returns an independent zero-state copy.
func (m *MSE) Clone() EvalMetric {
	return &MSE{baseMetric{name: m.name}}
}

func updateElementwise(m *baseMetric, labels, preds []*tensor.Tensor, f func(p, l float32) float64) error {
	if len(labels) != len(preds) {
		return fmt.Errorf("metric update requires matching label and prediction counts, got %d and %d", len(labels), len(preds))
	}
	for i := range preds {
		predData, err := preds[i].GetFloat32Data()
		if err != nil {
			return fmt.Errorf("metric update failed: %v", err)
		}
		labelData, err := labels[i].GetFloat32Data()
		if err != nil {
			return fmt.Errorf("metric update failed: %v", err)
		}
		if len(predData) != len(labelData) {
			return fmt.Errorf("metric update shape mismatch: predictions %v, labels %v", preds[i].Shape, labels[i].Shape)
		}
		for j := range predData {
			m.sum += f(predData[j], labelData[j])
		}
		m.count += len(predData)
	}
	return nil
}

// suggestMetricForLoss picks a metric implied by the loss kind, or nil when
// none can be inferred.
func suggestMetricForLoss(loss Loss) EvalMetric {
	switch loss.(type) {
	case *SoftmaxCrossEntropyLoss:
		return NewAccuracy()
	case *L2Loss:
		return NewMSE()
	default:
		return nil
	}
}
