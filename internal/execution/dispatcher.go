package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-authority/internal/domain"
	"trading-authority/pkg/logging"
)

// ErrDispatcherClosed is returned for requests submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Request is one swap in a batch.
type Request struct {
	Pair   string          `json:"pair"`
	Side   domain.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// Result is the outcome of one Request.
type Result struct {
	Record  domain.TransactionRecord `json:"record"`
	Err     error                    `json:"-"`
	Error   string                   `json:"error,omitempty"`
	Latency time.Duration            `json:"latency_ns"`
}

// Dispatcher runs swaps on a bounded worker pool. Each request takes its own status
// snapshot, so a mode switch mid-batch applies to requests not yet started.
type Dispatcher struct {
	factory    *Factory
	workerPool chan struct{}
	logger     zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(factory *Factory, workers int, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		factory:    factory,
		workerPool: make(chan struct{}, workers),
		logger:     logging.Component(logger, "dispatcher"),
	}
}

// ExecuteBatch runs every request and returns results in request order.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	d.wg.Add(len(reqs))
	d.mu.Unlock()

	results := make([]Result, len(reqs))
	var batch sync.WaitGroup
	batch.Add(len(reqs))
	for i, req := range reqs {
		d.workerPool <- struct{}{} // Acquire worker slot

		go func(i int, req Request) {
			defer d.wg.Done()
			defer batch.Done()
			defer func() { <-d.workerPool }() // Release worker slot

			start := time.Now()
			rec, err := d.factory.Execute(ctx, req.Pair, req.Side, req.Amount)
			results[i] = Result{Record: rec, Err: err, Latency: time.Since(start)}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, req)
	}
	batch.Wait()

	d.logger.Info().Int("requests", len(reqs)).Msg("batch dispatched")
	return results, nil
}

// Pending returns the number of running executions.
func (d *Dispatcher) Pending() int {
	return len(d.workerPool)
}

// Close rejects new batches and waits for running ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}
