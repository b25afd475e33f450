package training

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsawler/go-fit/logging"
	"github.com/tsawler/go-fit/tensor"
)

// EventHandler is a lifecycle observer registered with Fit. A handler
// implements any subset of the six capability interfaces below; Priority
// orders handlers within each lifecycle phase, lower first, ties keeping
// registration order.
type EventHandler interface {
	Priority() int
}

// TrainBeginHandler is invoked once before the first epoch.
type TrainBeginHandler interface {
	EventHandler
	TrainBegin(est *Estimator) error
}

// EpochBeginHandler is invoked before each epoch's first batch.
type EpochBeginHandler interface {
	EventHandler
	EpochBegin(est *Estimator) error
}

// BatchBeginHandler is invoked before each batch executes.
type BatchBeginHandler interface {
	EventHandler
	BatchBegin(est *Estimator, batch *Batch) error
}

// BatchEndHandler is invoked after each batch with the per-shard results.
// Returning true requests that the remaining batches of the epoch be skipped.
type BatchEndHandler interface {
	EventHandler
	BatchEnd(est *Estimator, batch *Batch, preds, labels, losses []*tensor.Tensor) (bool, error)
}

// EpochEndHandler is invoked after each epoch's batch loop. Returning true
// requests that training stop before the next epoch.
type EpochEndHandler interface {
	EventHandler
	EpochEnd(est *Estimator) (bool, error)
}

// TrainEndHandler is invoked once after the final epoch.
type TrainEndHandler interface {
	EventHandler
	TrainEnd(est *Estimator) error
}

// BaseHandler provides the default priority of 0. Embed it and set P to
// reorder a handler.
type BaseHandler struct {
	P int
}

// Priority returns the handler's ordering key.
func (b BaseHandler) Priority() int {
	return b.P
}

// metricUser lets prepare() validate that a handler only references metrics
// the estimator knows about.
type metricUser interface {
	Metrics() []EvalMetric
}

// handlerSets holds handlers partitioned by capability, in post-sort order.
type handlerSets struct {
	trainBegin []TrainBeginHandler
	epochBegin []EpochBeginHandler
	batchBegin []BatchBeginHandler
	batchEnd   []BatchEndHandler
	epochEnd   []EpochEndHandler
	trainEnd   []TrainEndHandler
}

// categorizeHandlers partitions handlers into the six event lists so the
// dispatch loop never calls a handler that does not implement a phase. A
// handler implementing several capabilities appears in several lists.
func categorizeHandlers(handlers []EventHandler) handlerSets {
	var sets handlerSets
	for _, h := range handlers {
		if tb, ok := h.(TrainBeginHandler); ok {
			sets.trainBegin = append(sets.trainBegin, tb)
		}
		if eb, ok := h.(EpochBeginHandler); ok {
			sets.epochBegin = append(sets.epochBegin, eb)
		}
		if bb, ok := h.(BatchBeginHandler); ok {
			sets.batchBegin = append(sets.batchBegin, bb)
		}
		if be, ok := h.(BatchEndHandler); ok {
			sets.batchEnd = append(sets.batchEnd, be)
		}
		if ee, ok := h.(EpochEndHandler); ok {
			sets.epochEnd = append(sets.epochEnd, ee)
		}
		if te, ok := h.(TrainEndHandler); ok {
			sets.trainEnd = append(sets.trainEnd, te)
		}
	}
	return sets
}

// StoppingHandler realizes the epoch/batch limit: it counts completed batches
// and epochs and raises the stop signal once the configured limit is reached.
// The dispatcher itself has no notion of when training should end.
type StoppingHandler struct {
	BaseHandler
	maxEpoch     int
	maxBatch     int
	currentEpoch int
	currentBatch int
	stopTraining bool
}

// NewStoppingHandler creates a stopping handler for the given limits. A zero
// limit is ignored.
func NewStoppingHandler(maxEpoch, maxBatch int) *StoppingHandler {
	return &StoppingHandler{maxEpoch: maxEpoch, maxBatch: maxBatch}
}

// TrainBegin resets the completion counters.
func (s *StoppingHandler) TrainBegin(est *Estimator) error {
	s.currentEpoch = 0
	s.currentBatch = 0
	s.stopTraining = false
	return nil
}

// BatchEnd counts the batch and signals stop once the batch limit is reached.
func (s *StoppingHandler) BatchEnd(est *Estimator, batch *Batch, preds, labels, losses []*tensor.Tensor) (bool, error) {
	s.currentBatch++
	if s.maxBatch > 0 && s.currentBatch >= s.maxBatch {
		s.stopTraining = true
	}
	return s.stopTraining, nil
}

// EpochEnd counts the epoch and signals stop once the epoch limit is reached.
// A stop raised at batch end persists through the epoch-end vote.
func (s *StoppingHandler) EpochEnd(est *Estimator) (bool, error) {
	s.currentEpoch++
	if s.maxEpoch > 0 && s.currentEpoch >= s.maxEpoch {
		s.stopTraining = true
	}
	return s.stopTraining, nil
}

// MetricHandler keeps the training metrics current: it zeroes them at each
// epoch begin and folds in every batch result. It runs before any other
// handler so metric readers observe up-to-date values.
type MetricHandler struct {
	BaseHandler
	trainMetrics []EvalMetric
}

// NewMetricHandler creates a metric handler bound to the given training
// metrics.
func NewMetricHandler(trainMetrics []EvalMetric) *MetricHandler {
	return &MetricHandler{BaseHandler: BaseHandler{P: math.MinInt}, trainMetrics: trainMetrics}
}

// EpochBegin resets all bound metrics.
func (m *MetricHandler) EpochBegin(est *Estimator) error {
	for _, metric := range m.trainMetrics {
		metric.Reset()
	}
	return nil
}

// BatchEnd updates every bound metric with the batch results.
func (m *MetricHandler) BatchEnd(est *Estimator, batch *Batch, preds, labels, losses []*tensor.Tensor) (bool, error) {
	for _, metric := range m.trainMetrics {
		var err error
		if _, ok := metric.(*LossMetric); ok {
			err = metric.Update(nil, losses)
		} else {
			err = metric.Update(labels, preds)
		}
		if err != nil {
			return false, fmt.Errorf("metric %q update failed: %v", metric.Name(), err)
		}
	}
	return false, nil
}

// Metrics returns the metrics this handler references.
func (m *MetricHandler) Metrics() []EvalMetric {
	return m.trainMetrics
}

// EvalFn is the evaluation entry point a ValidationHandler drives, normally
// (*Estimator).Evaluate.
type EvalFn func(valData *DataLoader, metrics []EvalMetric, batchAxis int) error

// ValidationHandler runs the evaluation loop over held-out data every
// EpochPeriod epochs and, when BatchPeriod is set, every BatchPeriod batches.
type ValidationHandler struct {
	BaseHandler
	valData      *DataLoader
	evalFn       EvalFn
	valMetrics   []EvalMetric
	EpochPeriod  int
	BatchPeriod  int
	BatchAxis    int
	currentEpoch int
	currentBatch int
}

// NewValidationHandler creates a validation handler that evaluates once per
// epoch.
func NewValidationHandler(valData *DataLoader, evalFn EvalFn, valMetrics []EvalMetric) *ValidationHandler {
	return &ValidationHandler{
		BaseHandler: BaseHandler{P: math.MinInt},
		valData:     valData,
		evalFn:      evalFn,
		valMetrics:  valMetrics,
		EpochPeriod: 1,
	}
}

// TrainBegin resets the period counters.
func (v *ValidationHandler) TrainBegin(est *Estimator) error {
	v.currentEpoch = 0
	v.currentBatch = 0
	return nil
}

// BatchEnd evaluates when a batch period is configured and due.
func (v *ValidationHandler) BatchEnd(est *Estimator, batch *Batch, preds, labels, losses []*tensor.Tensor) (bool, error) {
	v.currentBatch++
	if v.BatchPeriod > 0 && v.currentBatch%v.BatchPeriod == 0 {
		if err := v.evalFn(v.valData, v.valMetrics, v.BatchAxis); err != nil {
			return false, err
		}
	}
	return false, nil
}

// EpochEnd evaluates when the epoch period is due.
func (v *ValidationHandler) EpochEnd(est *Estimator) (bool, error) {
	v.currentEpoch++
	if v.EpochPeriod > 0 && v.currentEpoch%v.EpochPeriod == 0 {
		if err := v.evalFn(v.valData, v.valMetrics, v.BatchAxis); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Metrics returns the metrics this handler references.
func (v *ValidationHandler) Metrics() []EvalMetric {
	return v.valMetrics
}

// LoggingHandler reports training progress and metric values through the
// estimator's logger. It runs after every other handler so it observes final
// per-phase state.
type LoggingHandler struct {
	BaseHandler
	logger       logging.Logger
	trainMetrics []EvalMetric
	valMetrics   []EvalMetric

	// LogInterval adds a progress line every N batches when positive.
	LogInterval int

	runID        string
	trainStart   time.Time
	epochStart   time.Time
	currentEpoch int
	batchIndex   int
}

// NewLoggingHandler creates a logging handler bound to the given metric sets.
func NewLoggingHandler(logger logging.Logger, trainMetrics, valMetrics []EvalMetric) *LoggingHandler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &LoggingHandler{
		BaseHandler:  BaseHandler{P: math.MaxInt},
		logger:       logger,
		trainMetrics: trainMetrics,
		valMetrics:   valMetrics,
	}
}

// TrainBegin assigns a run ID and logs the training configuration.
func (l *LoggingHandler) TrainBegin(est *Estimator) error {
	l.runID = uuid.NewString()
	l.trainStart = time.Now()
	l.currentEpoch = 0

	args := []any{"run_id", l.runID, "contexts", fmt.Sprint(est.Contexts)}
	if est.MaxEpoch > 0 {
		args = append(args, "epochs", est.MaxEpoch)
	}
	if est.MaxBatch > 0 {
		args = append(args, "batches", est.MaxBatch)
	}
	if est.Trainer != nil {
		args = append(args, "learning_rate", est.Trainer.LearningRate())
	}
	l.logger.Info("training begin", args...)
	return nil
}

// EpochBegin records the epoch start time.
func (l *LoggingHandler) EpochBegin(est *Estimator) error {
	l.epochStart = time.Now()
	l.batchIndex = 0
	return nil
}

// BatchEnd logs a progress line every LogInterval batches.
func (l *LoggingHandler) BatchEnd(est *Estimator, batch *Batch, preds, labels, losses []*tensor.Tensor) (bool, error) {
	l.batchIndex++
	if l.LogInterval > 0 && l.batchIndex%l.LogInterval == 0 {
		args := []any{"epoch", l.currentEpoch, "batch", l.batchIndex}
		args = append(args, metricArgs(l.trainMetrics)...)
		l.logger.Info("batch progress", args...)
	}
	return false, nil
}

// EpochEnd logs the epoch's metric values and duration.
func (l *LoggingHandler) EpochEnd(est *Estimator) (bool, error) {
	args := []any{"epoch", l.currentEpoch, "duration", time.Since(l.epochStart), "batches", l.batchIndex}
	args = append(args, metricArgs(l.trainMetrics)...)
	args = append(args, metricArgs(l.valMetrics)...)
	l.logger.Info("epoch complete", args...)
	l.currentEpoch++
	return false, nil
}

// TrainEnd logs the final metric values and total duration.
func (l *LoggingHandler) TrainEnd(est *Estimator) error {
	args := []any{"run_id", l.runID, "duration", time.Since(l.trainStart)}
	args = append(args, metricArgs(l.trainMetrics)...)
	args = append(args, metricArgs(l.valMetrics)...)
	l.logger.Info("training complete", args...)
	return nil
}

// Metrics returns the metrics this handler references.
func (l *LoggingHandler) Metrics() []EvalMetric {
	all := append([]EvalMetric{}, l.trainMetrics...)
	return append(all, l.valMetrics...)
}

func metricArgs(metrics []EvalMetric) []any {
	args := make([]any, 0, len(metrics)*2)
	for _, m := range metrics {
		name, value := m.Get()
		args = append(args, name, value)
	}
	return args
}

// EarlyStoppingHandler stops training when a monitored metric has not
// improved for patience epochs.
type EarlyStoppingHandler struct {
	BaseHandler
	monitor  EvalMetric
	mode     string
	patience int
	minDelta float64

	baseline    float64
	hasBaseline bool

	best         float64
	wait         int
	currentEpoch int
	stoppedEpoch int
	stopTraining bool
}

// NewEarlyStoppingHandler creates an early-stopping handler watching the
// given metric. Mode is "min", "max", or "auto"; auto picks max for
// accuracy-like names and min otherwise.
func NewEarlyStoppingHandler(monitor EvalMetric, mode string, patience int, minDelta float64) (*EarlyStoppingHandler, error) {
	if monitor == nil {
		return nil, fmt.Errorf("early stopping requires a metric to monitor, got nil")
	}
	switch mode {
	case "min", "max":
	case "", "auto":
		mode = "min"
		if name, _ := monitor.Get(); isAscendingMetric(name) {
			mode = "max"
		}
	default:
		return nil, fmt.Errorf("early stopping mode must be one of min, max, auto; got %q", mode)
	}
	return &EarlyStoppingHandler{
		monitor:  monitor,
		mode:     mode,
		patience: patience,
		minDelta: minDelta,
	}, nil
}

func isAscendingMetric(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "acc") || strings.Contains(lower, "f1")
}

// SetBaseline sets the value the monitored metric must beat before patience
// starts counting; without one the first observed value becomes the best.
func (e *EarlyStoppingHandler) SetBaseline(value float64) {
	e.baseline = value
	e.hasBaseline = true
}

// TrainBegin resets the improvement tracking.
func (e *EarlyStoppingHandler) TrainBegin(est *Estimator) error {
	e.wait = 0
	e.currentEpoch = 0
	e.stoppedEpoch = 0
	e.stopTraining = false
	switch {
	case e.hasBaseline:
		e.best = e.baseline
	case e.mode == "max":
		e.best = math.Inf(-1)
	default:
		e.best = math.Inf(1)
	}
	return nil
}

// EpochEnd checks the monitored metric and raises the stop signal once
// patience is exhausted.
func (e *EarlyStoppingHandler) EpochEnd(est *Estimator) (bool, error) {
	e.currentEpoch++
	_, value := e.monitor.Get()
	if math.IsNaN(value) {
		return e.stopTraining, nil
	}

	improved := false
	if e.mode == "max" {
		improved = value > e.best+e.minDelta
	} else {
		improved = value < e.best-e.minDelta
	}

	if improved {
		e.best = value
		e.wait = 0
	} else {
		e.wait++
		if e.wait > e.patience {
			e.stopTraining = true
			e.stoppedEpoch = e.currentEpoch
		}
	}
	return e.stopTraining, nil
}

// TrainEnd reports whether and when early stopping triggered.
func (e *EarlyStoppingHandler) TrainEnd(est *Estimator) error {
	if e.stopTraining {
		name, _ := e.monitor.Get()
		est.logger.Info("early stopping triggered", "epoch", e.stoppedEpoch, "monitor", name, "best", e.best)
	}
	return nil
}

// Metrics returns the metric this handler references.
func (e *EarlyStoppingHandler) Metrics() []EvalMetric {
	return []EvalMetric{e.monitor}
}
