// Package batch fans one operation out over a large endpoint set in
// fixed-size chunks with bounded concurrency. Item failures are isolated
// and counted; a batch always runs to completion, and cancellation drops
// only the chunks that have not started.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/warden/internal/fault"
)

const (
	DefaultBatchSize      = 100
	DefaultMaxConcurrency = 10

	// maxRecordedFailures caps the per-job failure list so a fully failing
	// batch over tens of thousands of endpoints cannot balloon the record
	maxRecordedFailures = 1000
)

// Operation is applied to every endpoint in a batch.
type Operation interface {
	Name() string
	Apply(ctx context.Context, ep Endpoint) error
}

// OperationFunc adapts a named function to Operation.
type OperationFunc struct {
	OpName string
	Fn     func(ctx context.Context, ep Endpoint) error
}

func (o OperationFunc) Name() string { return o.OpName }

func (o OperationFunc) Apply(ctx context.Context, ep Endpoint) error { return o.Fn(ctx, ep) }

// run is the live state of an executing job.
type run struct {
	job       *BatchJob
	succeeded atomic.Int64
	failed    atomic.Int64
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu       sync.Mutex
	failures []ItemFailure
}

// Orchestrator starts and tracks batch jobs. Counters for live jobs are
// read from memory; finished jobs are served from the store.
type Orchestrator struct {
	store   Store
	logger  log.Logger
	metrics *Metrics

	mu      sync.Mutex
	running map[string]*run
}

// NewOrchestrator creates a batch orchestrator. metrics may be nil.
func NewOrchestrator(store Store, logger log.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		store:   store,
		logger:  logger,
		metrics: metrics,
		running: make(map[string]*run),
	}
}

// Run starts a batch over the endpoint set and returns its job record
// immediately. Chunks of batchSize endpoints are processed with at most
// maxConcurrency chunks in flight.
func (o *Orchestrator) Run(ctx context.Context, endpoints []Endpoint, op Operation, batchSize, maxConcurrency int) (*BatchJob, error) {
	if op == nil {
		return nil, fault.New(fault.KindValidation, "batch: nil operation")
	}
	if len(endpoints) == 0 {
		return nil, fault.New(fault.KindValidation, "batch: empty endpoint set")
	}
	if batchSize <= 0 {
		return nil, fault.New(fault.KindValidation, "batch: batch size %d, want > 0", batchSize)
	}
	if maxConcurrency <= 0 {
		return nil, fault.New(fault.KindValidation, "batch: max concurrency %d, want > 0", maxConcurrency)
	}

	job := &BatchJob{
		ID:        ulid.Make().String(),
		Operation: op.Name(),
		Total:     len(endpoints),
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}
	if err := o.store.Put(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{job: job, cancel: cancel}
	o.mu.Lock()
	o.running[job.ID] = r
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.JobsTotal.WithLabelValues(op.Name()).Inc()
	}

	go o.execute(runCtx, r, endpoints, op, batchSize, maxConcurrency)

	snapshot := *job
	return &snapshot, nil
}

// execute drives the chunk pool to completion and finalizes the record.
func (o *Orchestrator) execute(ctx context.Context, r *run, endpoints []Endpoint, op Operation, batchSize, maxConcurrency int) {
	job := r.job
	L := o.logger.With("batch_id", job.ID, "operation", job.Operation, "total", job.Total)
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(maxConcurrency)

	for _, chunk := range partition(endpoints, batchSize) {
		g.Go(func() error {
			// queued chunks are dropped after cancellation; a chunk that
			// already started runs to the end
			if ctx.Err() != nil {
				return nil
			}
			o.processChunk(ctx, r, op, chunk)
			o.persistSnapshot(r)
			return nil
		})
	}
	_ = g.Wait() // chunk closures never return an error

	job.Succeeded = int(r.succeeded.Load())
	job.Failed = int(r.failed.Load())
	job.Status = StatusCompleted
	job.Cancelled = r.cancelled.Load()
	job.CompletedAt = time.Now()
	r.mu.Lock()
	job.Failures = append([]ItemFailure(nil), r.failures...)
	r.mu.Unlock()

	if err := o.store.Put(context.WithoutCancel(ctx), job); err != nil {
		L.Error(ctx, err, "failed to persist completed batch")
	}

	o.mu.Lock()
	delete(o.running, job.ID)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.JobDuration.WithLabelValues(job.Operation).Observe(time.Since(start).Seconds())
	}
	L.Info(ctx, "batch completed",
		"succeeded", job.Succeeded,
		"failed", job.Failed,
		"cancelled", job.Cancelled,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// processChunk applies the operation to each item. A failing item is counted
// and recorded; it never aborts the chunk or the batch. Items run on a
// context detached from cancellation so in-flight work finishes cleanly.
func (o *Orchestrator) processChunk(ctx context.Context, r *run, op Operation, chunk []Endpoint) {
	itemCtx := context.WithoutCancel(ctx)
	for _, ep := range chunk {
		if err := op.Apply(itemCtx, ep); err != nil {
			r.failed.Add(1)
			o.countItem("failed")
			r.mu.Lock()
			if len(r.failures) < maxRecordedFailures {
				r.failures = append(r.failures, ItemFailure{
					EndpointID: ep.ID,
					Kind:       string(fault.KindOf(err)),
					Detail:     err.Error(),
				})
			}
			r.mu.Unlock()
			continue
		}
		r.succeeded.Add(1)
		o.countItem("succeeded")
	}
}

// persistSnapshot writes current counters so progress survives a restart.
func (o *Orchestrator) persistSnapshot(r *run) {
	snapshot := *r.job
	snapshot.Succeeded = int(r.succeeded.Load())
	snapshot.Failed = int(r.failed.Load())
	if err := o.store.Put(context.Background(), &snapshot); err != nil {
		o.logger.Error(context.Background(), err, "failed to persist batch snapshot", "batch_id", r.job.ID)
	}
}

// Progress returns a point-in-time snapshot without blocking the batch.
func (o *Orchestrator) Progress(ctx context.Context, id string) (*Progress, bool, error) {
	o.mu.Lock()
	r, live := o.running[id]
	o.mu.Unlock()

	if live {
		return &Progress{
			JobID:     id,
			Succeeded: int(r.succeeded.Load()),
			Failed:    int(r.failed.Load()),
			Total:     r.job.Total,
			Status:    StatusRunning,
			Cancelled: r.cancelled.Load(),
		}, true, nil
	}

	job, ok, err := o.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Progress{
		JobID:     id,
		Succeeded: job.Succeeded,
		Failed:    job.Failed,
		Total:     job.Total,
		Status:    job.Status,
		Cancelled: job.Cancelled,
	}, true, nil
}

// Get returns the job record, from memory while running.
func (o *Orchestrator) Get(ctx context.Context, id string) (*BatchJob, bool, error) {
	o.mu.Lock()
	r, live := o.running[id]
	o.mu.Unlock()
	if live {
		snapshot := *r.job
		snapshot.Succeeded = int(r.succeeded.Load())
		snapshot.Failed = int(r.failed.Load())
		snapshot.Cancelled = r.cancelled.Load()
		return &snapshot, true, nil
	}
	return o.store.Get(ctx, id)
}

// List returns all known job records.
func (o *Orchestrator) List(ctx context.Context) ([]*BatchJob, error) {
	return o.store.List(ctx)
}

// Cancel stops a running batch. In-flight chunks finish, queued chunks are
// dropped, and the job completes with the counts actually processed.
// Cancelling a finished or unknown job reports not found.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	r, live := o.running[id]
	o.mu.Unlock()
	if !live {
		return fault.New(fault.KindNotFound, "batch: no running job %q", id)
	}
	r.cancelled.Store(true)
	r.cancel()
	if o.metrics != nil {
		o.metrics.CancelsTotal.Inc()
	}
	o.logger.Info(context.Background(), "batch cancelled", "batch_id", id)
	return nil
}

// partition splits endpoints into chunks of at most size each.
func partition(endpoints []Endpoint, size int) [][]Endpoint {
	chunks := make([][]Endpoint, 0, (len(endpoints)+size-1)/size)
	for start := 0; start < len(endpoints); start += size {
		end := min(start+size, len(endpoints))
		chunks = append(chunks, endpoints[start:end])
	}
	return chunks
}

func (o *Orchestrator) countItem(outcome string) {
	if o.metrics != nil {
		o.metrics.ItemsTotal.WithLabelValues(outcome).Inc()
	}
}
