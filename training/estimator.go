package training

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tsawler/go-fit/logging"
	"github.com/tsawler/go-fit/tensor"
)

// Estimator drives the training loop for a Module: it runs batches through
// the network, steps the optimizer, keeps metrics current, and dispatches
// lifecycle events to registered handlers.
type Estimator struct {
	Net      Module
	Loss     Loss
	Trainer  Optimizer
	Contexts []Context

	// MaxEpoch and MaxBatch reflect the limit passed to the current Fit
	// call; exactly one of them is nonzero while training.
	MaxEpoch int
	MaxBatch int

	trainMetrics []EvalMetric
	valMetrics   []EvalMetric
	logger       logging.Logger
}

// EstimatorConfig carries the optional pieces of an Estimator. Zero values
// select defaults.
type EstimatorConfig struct {
	// Metrics are the training metrics to track. When empty a metric
	// suggested by the loss (if any) plus a loss average are used.
	Metrics []EvalMetric

	// Initializer initializes the network parameters. Ignored with a
	// warning when the network is already initialized.
	Initializer Initializer

	// Trainer is the optimizer stepping the parameters. Defaults to SGD
	// with learning rate 0.001.
	Trainer Optimizer

	// Contexts are the devices to shard batches across. Defaults to one
	// GPU when available, otherwise the CPU.
	Contexts []Context

	Logger logging.Logger
}

// NewEstimator creates an Estimator for the given network and loss.
func NewEstimator(net Module, loss Loss, cfg EstimatorConfig) (*Estimator, error) {
	if net == nil {
		return nil, fmt.Errorf("net must be a Module, got nil")
	}
	if loss == nil {
		return nil, fmt.Errorf("loss must be a Loss, got nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefault()
	}

	contexts, err := checkContexts(cfg.Contexts, logger)
	if err != nil {
		return nil, err
	}

	est := &Estimator{
		Net:      net,
		Loss:     loss,
		Contexts: contexts,
		logger:   logger,
	}

	if err := est.initializeNet(cfg.Initializer); err != nil {
		return nil, err
	}

	est.Trainer = cfg.Trainer
	if est.Trainer == nil {
		logger.Warn("no trainer specified, default SGD optimizer with learning rate 0.001 is used")
		est.Trainer = NewSGD(net.Parameters(), 0.001, 0, 0)
	}

	est.trainMetrics = append(est.trainMetrics, cfg.Metrics...)
	est.addDefaultTrainingMetrics()
	est.addValidationMetrics()

	return est, nil
}

// initializeNet applies the initializer to uninitialized parameters. A
// network whose parameters already hold data keeps them, with a warning when
// an initializer was supplied anyway.
func (e *Estimator) initializeNet(init Initializer) error {
	params := e.Net.Parameters()

	initialized := true
	for _, p := range params {
		if p == nil || p.Data == nil {
			initialized = false
			break
		}
	}

	if initialized {
		if init != nil {
			e.logger.Warn("network already initialized, skipping initialization", "initializer", fmt.Sprintf("%T", init))
		}
		return nil
	}

	if init == nil {
		init = &Uniform{Scale: 0.07}
	}
	if pi, ok := e.Net.(ParamInitializer); ok {
		if err := pi.InitParams(init); err != nil {
			return fmt.Errorf("parameter initialization failed: %v", err)
		}
		return nil
	}
	for _, p := range params {
		if p == nil {
			return fmt.Errorf("network returned a nil parameter")
		}
		if p.Data != nil {
			continue
		}
		if err := init.Init(p); err != nil {
			return fmt.Errorf("parameter initialization failed: %v", err)
		}
	}
	return nil
}

// addDefaultTrainingMetrics fills the training metric set when the caller
// supplied none: a metric suggested by the loss function, if it has one, plus
// an average of the loss itself. All training metrics get a "training "
// name prefix.
func (e *Estimator) addDefaultTrainingMetrics() {
	if len(e.trainMetrics) == 0 {
		if suggested := suggestMetricForLoss(e.Loss); suggested != nil {
			e.trainMetrics = append(e.trainMetrics, suggested)
		}
		lossName := strings.TrimRight(e.Loss.Name(), "1234567890")
		e.trainMetrics = append(e.trainMetrics, NewLossMetric(lossName))
	}

	for _, m := range e.trainMetrics {
		m.SetName("training " + m.Name())
	}
}

// addValidationMetrics mirrors each training metric into an independent
// validation counterpart.
func (e *Estimator) addValidationMetrics() {
	for _, m := range e.trainMetrics {
		clone := m.Clone()
		clone.SetName("validation " + strings.TrimPrefix(m.Name(), "training "))
		e.valMetrics = append(e.valMetrics, clone)
	}
}

// TrainMetrics returns the training metric set.
func (e *Estimator) TrainMetrics() []EvalMetric {
	return e.trainMetrics
}

// ValMetrics returns the validation metric set.
func (e *Estimator) ValMetrics() []EvalMetric {
	return e.valMetrics
}

// splitBatch shards a batch's data and labels evenly across the estimator's
// contexts along batchAxis.
func (e *Estimator) splitBatch(batch *Batch, batchAxis int) (data, labels []*tensor.Tensor, err error) {
	data, err = tensor.Split(batch.Data, len(e.Contexts), batchAxis)
	if err != nil {
		return nil, nil, fmt.Errorf("splitting batch data: %v", err)
	}
	labels, err = tensor.Split(batch.Labels, len(e.Contexts), batchAxis)
	if err != nil {
		return nil, nil, fmt.Errorf("splitting batch labels: %v", err)
	}
	return data, labels, nil
}

// fitBatch runs one training step: forward and loss under gradient
// recording, backward, then an optimizer step scaled by the batch size. It
// returns the per-shard inputs, labels, predictions, and losses for the
// batch-end handlers.
func (e *Estimator) fitBatch(batch *Batch, batchAxis int) (data, labels, preds, losses []*tensor.Tensor, err error) {
	data, labels, err = e.splitBatch(batch, batchAxis)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	batchSize, err := batch.Data.SizeAt(batchAxis)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	e.Trainer.ZeroGrad()

	preds = make([]*tensor.Tensor, len(data))
	losses = make([]*tensor.Tensor, len(data))
	err = func() error {
		done := tensor.Record()
		defer done()
		for i := range data {
			pred, err := e.Net.Forward(data[i])
			if err != nil {
				return fmt.Errorf("forward pass failed: %v", err)
			}
			loss, err := e.Loss.Forward(pred, labels[i])
			if err != nil {
				return fmt.Errorf("loss computation failed: %v", err)
			}
			preds[i] = pred
			losses[i] = loss
		}
		return nil
	}()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	for _, loss := range losses {
		if err := loss.Backward(); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("backward pass failed: %v", err)
		}
	}

	if err := e.Trainer.Step(batchSize); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("optimizer step failed: %v", err)
	}

	return data, labels, preds, losses, nil
}

// evaluateBatch runs one inference step and folds the results into metrics.
// No gradients are recorded and no parameters change.
func (e *Estimator) evaluateBatch(batch *Batch, metrics []EvalMetric, batchAxis int) error {
	data, labels, err := e.splitBatch(batch, batchAxis)
	if err != nil {
		return err
	}

	preds := make([]*tensor.Tensor, len(data))
	losses := make([]*tensor.Tensor, len(data))
	for i := range data {
		pred, err := e.Net.Forward(data[i])
		if err != nil {
			return fmt.Errorf("forward pass failed: %v", err)
		}
		loss, err := e.Loss.Forward(pred, labels[i])
		if err != nil {
			return fmt.Errorf("loss computation failed: %v", err)
		}
		preds[i] = pred
		losses[i] = loss
	}

	for _, m := range metrics {
		var err error
		if _, ok := m.(*LossMetric); ok {
			err = m.Update(nil, losses)
		} else {
			err = m.Update(labels, preds)
		}
		if err != nil {
			return fmt.Errorf("metric %q update failed: %v", m.Name(), err)
		}
	}
	return nil
}

// Evaluate runs a full pass over valData, resetting metrics first so the
// final values reflect only this pass.
func (e *Estimator) Evaluate(valData *DataLoader, metrics []EvalMetric, batchAxis int) error {
	if valData == nil {
		return fmt.Errorf("evaluate requires a *DataLoader, got nil; wrap your dataset in a DataLoader")
	}

	for _, m := range metrics {
		m.Reset()
	}

	valData.Reset()
	for {
		batch, err := valData.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		if err := e.evaluateBatch(batch, metrics, batchAxis); err != nil {
			return err
		}
	}
}

// FitConfig configures a Fit run. Exactly one of Epochs or Batches must be
// positive.
type FitConfig struct {
	// Epochs trains for that many full passes over the data.
	Epochs int

	// Batches trains for that many batches regardless of epoch boundaries.
	Batches int

	// ValData, when set, is evaluated once per epoch by the default
	// validation handler.
	ValData *DataLoader

	// EventHandlers observe the run. Default handlers for stopping,
	// metrics, validation, and logging are added for any category not
	// present.
	EventHandlers []EventHandler

	// BatchAxis is the axis batches are sharded along. Defaults to 0.
	BatchAxis int
}

// Fit trains the network on trainData, dispatching the six lifecycle events
// to the (user plus default) handlers in priority order. Training ends when
// an epoch-end handler signals stop; a batch-end stop ends the current epoch
// early, after which epoch-end handlers still run.
func (e *Estimator) Fit(trainData *DataLoader, cfg FitConfig) error {
	if trainData == nil {
		return fmt.Errorf("fit requires a *DataLoader, got nil; wrap your dataset in a DataLoader")
	}
	if cfg.Epochs < 0 || cfg.Batches < 0 {
		return fmt.Errorf("epochs and batches must be non-negative, got epochs=%d batches=%d", cfg.Epochs, cfg.Batches)
	}
	if (cfg.Epochs > 0) == (cfg.Batches > 0) {
		return fmt.Errorf("fit supports exactly one type of iteration: specify exactly one of epochs or batches")
	}

	e.MaxEpoch = cfg.Epochs
	e.MaxBatch = cfg.Batches

	handlers, err := e.prepareHandlers(cfg.ValData, cfg.EventHandlers, cfg.BatchAxis)
	if err != nil {
		return err
	}
	sets := categorizeHandlers(handlers)

	for _, h := range sets.trainBegin {
		if err := h.TrainBegin(e); err != nil {
			return err
		}
	}

	for {
		for _, h := range sets.epochBegin {
			if err := h.EpochBegin(e); err != nil {
				return err
			}
		}

		trainData.Reset()
		for {
			batch, err := trainData.Next()
			if err != nil {
				return err
			}
			if batch == nil {
				break
			}

			for _, h := range sets.batchBegin {
				if err := h.BatchBegin(e, batch); err != nil {
					return err
				}
			}

			_, labels, preds, losses, err := e.fitBatch(batch, cfg.BatchAxis)
			if err != nil {
				return err
			}

			// Every batch-end handler runs before the stop votes
			// are tallied.
			stop := false
			for _, h := range sets.batchEnd {
				s, err := h.BatchEnd(e, batch, preds, labels, losses)
				if err != nil {
					return err
				}
				stop = stop || s
			}
			if stop {
				break
			}
		}

		stop := false
		for _, h := range sets.epochEnd {
			s, err := h.EpochEnd(e)
			if err != nil {
				return err
			}
			stop = stop || s
		}
		if stop {
			break
		}
	}

	for _, h := range sets.trainEnd {
		if err := h.TrainEnd(e); err != nil {
			return err
		}
	}
	return nil
}

// prepareHandlers completes the handler set for a Fit run: a stopping
// handler is always added; metric, validation, and logging handlers are
// added unless the user supplied one of that type. The result is sorted by
// priority, ties keeping user handlers ahead of defaults.
func (e *Estimator) prepareHandlers(valData *DataLoader, userHandlers []EventHandler, batchAxis int) ([]EventHandler, error) {
	var hasMetric, hasValidation, hasLogging bool
	for _, h := range userHandlers {
		switch h.(type) {
		case *MetricHandler:
			hasMetric = true
		case *ValidationHandler:
			hasValidation = true
		case *LoggingHandler:
			hasLogging = true
		}
	}

	added := []EventHandler{NewStoppingHandler(e.MaxEpoch, e.MaxBatch)}

	if !hasMetric {
		added = append(added, NewMetricHandler(e.trainMetrics))
	}

	valMetrics := e.valMetrics
	if !hasValidation {
		if valData != nil {
			vh := NewValidationHandler(valData, e.Evaluate, e.valMetrics)
			vh.BatchAxis = batchAxis
			added = append(added, vh)
		} else {
			// Without validation data or a handler that evaluates,
			// validation metrics would only ever report stale values.
			valMetrics = nil
		}
	}

	if !hasLogging {
		added = append(added, NewLoggingHandler(e.logger, e.trainMetrics, valMetrics))
	}

	all := append(append([]EventHandler{}, userHandlers...), added...)

	if len(userHandlers) > 0 {
		names := make([]string, len(added))
		for i, h := range added {
			names[i] = handlerName(h)
		}
		e.logger.Warn("default handlers added alongside custom handlers; to override them, pass handlers of the same type",
			"added", strings.Join(names, ", "))

		if err := e.checkHandlerMetricRefs(all); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority() < all[j].Priority()
	})
	return all, nil
}

// checkHandlerMetricRefs verifies that every metric a handler references is
// one of the estimator's own, so handlers and the estimator never disagree
// about which metric instance they observe.
func (e *Estimator) checkHandlerMetricRefs(handlers []EventHandler) error {
	known := make(map[EvalMetric]bool, len(e.trainMetrics)+len(e.valMetrics))
	for _, m := range e.trainMetrics {
		known[m] = true
	}
	for _, m := range e.valMetrics {
		known[m] = true
	}

	for _, h := range handlers {
		mu, ok := h.(metricUser)
		if !ok {
			continue
		}
		for _, m := range mu.Metrics() {
			if !known[m] {
				return fmt.Errorf("handler %s references metric %q that is not in the estimator's train or validation metrics; use the estimator's metric instances",
					handlerName(h), m.Name())
			}
		}
	}
	return nil
}

func handlerName(h EventHandler) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", h), "*training.")
}
