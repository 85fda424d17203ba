package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"hkbot/internal/metrics"
)

const defaultSubmitTimeout = 10 * time.Second

var (
	ErrQueueFull   = errors.New("work queue full")
	ErrQueueClosed = errors.New("work queue closed")
)

// Job is a unit of background work.
type Job func(ctx context.Context)

type QueueConfig struct {
	Workers       int
	Size          int // buffered jobs per worker
	SubmitTimeout time.Duration
	Metrics       *metrics.Pipeline
	Logger        *slog.Logger
}

// Queue runs jobs on a fixed set of workers. Jobs with the same key always
// land on the same worker, so they run in submission order.
type Queue struct {
	shards        []chan Job
	submitTimeout time.Duration
	metrics       *metrics.Pipeline
	logger        *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{
		shards:        make([]chan Job, cfg.Workers),
		submitTimeout: cfg.SubmitTimeout,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
	for i := range q.shards {
		q.shards[i] = make(chan Job, cfg.Size)
	}
	return q
}

func (q *Queue) Workers() int { return len(q.shards) }

// Start launches one goroutine per worker. Jobs receive ctx; cancelling it
// does not drop queued jobs, Close drains them.
func (q *Queue) Start(ctx context.Context) {
	for i, ch := range q.shards {
		q.wg.Add(1)
		go func(id int, jobs <-chan Job) {
			defer q.wg.Done()
			for job := range jobs {
				q.run(ctx, id, job)
			}
		}(i, ch)
	}
	q.logger.Info("work queue started", "workers", len(q.shards))
}

func (q *Queue) run(ctx context.Context, worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "worker", worker, "panic", r)
		}
	}()
	q.metrics.QueueDepth(q.depth())
	job(ctx)
}

// Submit enqueues job on the worker owning key. When that worker is busy it
// waits up to the submit timeout before giving up.
func (q *Queue) Submit(key string, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	ch := q.shards[q.shard(key)]
	select {
	case ch <- job:
		q.metrics.QueueDepth(q.depth())
		return nil
	default:
	}

	q.logger.Warn("work queue full, waiting", "key", key)
	timer := time.NewTimer(q.submitTimeout)
	defer timer.Stop()
	select {
	case ch <- job:
		q.metrics.QueueDepth(q.depth())
		return nil
	case <-timer.C:
		q.logger.Error("job dropped: queue full", "key", key, "waited", q.submitTimeout)
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, ch := range q.shards {
			close(ch)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) shard(key string) int {
	if len(q.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.shards)))
}

func (q *Queue) depth() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Submit schedules d on q. With a single worker the whole delivery is one
// job, so messages run strictly in arrival order; otherwise each message is
// routed by its chat.
func (p *Processor) Submit(q *Queue, d *Delivery) error {
	if q.Workers() == 1 {
		return q.Submit("", func(ctx context.Context) { p.ProcessDelivery(ctx, d) })
	}
	var errs []error
	for _, in := range d.Messages {
		err := q.Submit(in.Key(), func(ctx context.Context) {
			if err := p.ProcessMessage(ctx, in); err != nil {
				p.logger.Error("message processing failed", "id", in.Message.ID, "err", err)
			}
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
