package execution

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"colosseum/internal/intent"
)

// Worker drains pending intents on a fixed interval. Each tick takes up
// to maxBatchSize intents, oldest first, and executes them sequentially;
// a tick always completes before the next is considered, and a bad
// intent never kills the loop.
type Worker struct {
	intents  *intent.Service
	exec     *Service
	interval time.Duration
	maxBatch int
	logger   *slog.Logger

	ticking atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates the execution worker.
func NewWorker(intents *intent.Service, exec *Service, interval time.Duration, maxBatch int, logger *slog.Logger) *Worker {
	return &Worker{
		intents:  intents,
		exec:     exec,
		interval: interval,
		maxBatch: maxBatch,
		logger:   logger.With("component", "worker"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("execution worker started", "interval", w.interval, "max_batch", w.maxBatch)
}

// Stop signals shutdown and waits for the loop to exit. The in-flight
// intent finishes; remaining pending intents stay pending.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("execution worker stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick drains one batch. The CAS guards against overlap if a tick is
// ever scheduled while the previous one still runs.
func (w *Worker) tick() {
	if !w.ticking.CompareAndSwap(false, true) {
		return
	}
	defer w.ticking.Store(false)

	for _, in := range w.intents.ListPending(w.maxBatch) {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if _, err := w.exec.Execute(in.ID); err != nil {
			w.logger.Error("execution error", "intent_id", in.ID, "error", err)
		}
	}
}
