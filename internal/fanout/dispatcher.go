package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"candlefeed/internal/logger"
)

const defaultQueueSize = 64

// Dispatcher gives every sink its own buffered queue and worker. Publish
// never blocks; a full queue drops the batch for that sink only.
type Dispatcher struct {
	queueSize int
	mu        sync.RWMutex
	workers   []*worker
	started   bool
}

type worker struct {
	sink      Sink
	queue     chan Batch
	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// SinkStats are per-sink counters.
type SinkStats struct {
	Sink      string `json:"sink"`
	Queued    int    `json:"queued"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
	Failed    int64  `json:"failed"`
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{queueSize: queueSize}
	for _, s := range sinks {
		d.Add(s)
	}
	return d
}

// Add registers a sink. Sinks added after Run are not started.
func (d *Dispatcher) Add(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		logger.Warnf("fanout: sink %s added after start, ignored", s.Name())
		return
	}
	d.workers = append(d.workers, &worker{sink: s, queue: make(chan Batch, d.queueSize)})
}

func (d *Dispatcher) Publish(b Batch) {
	if len(b.Candles) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.workers {
		select {
		case w.queue <- b:
		default:
			w.dropped.Add(1)
			logger.Warnf("fanout: %s queue full, dropped %s batch of %d", w.sink.Name(), b.Key, len(b.Candles))
		}
	}
}

// Run delivers until ctx ends. Batches still queued at that point are
// discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = true
	workers := append([]*worker(nil), d.workers...)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	wg.Wait()
	return nil
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-w.queue:
			if err := w.sink.Deliver(ctx, b); err != nil {
				w.failed.Add(1)
				logger.Warnf("fanout: %s delivery of %s failed: %v", w.sink.Name(), b.Key, err)
				continue
			}
			w.delivered.Add(1)
		}
	}
}

func (d *Dispatcher) Stats() []SinkStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]SinkStats, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, SinkStats{
			Sink:      w.sink.Name(),
			Queued:    len(w.queue),
			Delivered: w.delivered.Load(),
			Dropped:   w.dropped.Load(),
			Failed:    w.failed.Load(),
		})
	}
	return out
}
