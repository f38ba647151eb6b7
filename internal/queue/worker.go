package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerPool consumes jobs from a Queue with a fixed number of workers.
// Each worker runs one job to completion before pulling the next; dispatch
// is purely on job kind and an unregistered kind is a fatal job error.
type WorkerPool struct {
	queue    *Queue
	logger   Logger
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWorkerPool creates a pool over the given queue
func NewWorkerPool(queue *Queue, logger Logger) *WorkerPool {
	return &WorkerPool{
		queue:    queue,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (p *WorkerPool) Register(kind string, handler Handler) {
	p.handlers[kind] = handler
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	concurrency := p.queue.config.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.worker(ctx, i)
	}

	p.logger.LogInfo("Worker pool started", map[string]interface{}{
		"queue":       p.queue.config.Name,
		"concurrency": concurrency,
	})
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.queue.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.queue.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
			p.logger.LogWarn("Failed to promote delayed jobs", map[string]interface{}{
				"error": err.Error(),
			})
		}

		// Drain ready jobs before going back to sleep
		for {
			job, err := p.queue.pop(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.LogError(err, "Failed to pop job")
				}
				break
			}
			if job == nil {
				break
			}
			p.run(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// run executes one job and settles its outcome
func (p *WorkerPool) run(ctx context.Context, job *Job) {
	start := time.Now()
	p.logger.LogInfo("Job started", map[string]interface{}{
		"jobId":   job.ID,
		"kind":    job.Kind,
		"attempt": job.Attempts + 1,
	})

	handler, ok := p.handlers[job.Kind]
	var err error
	if !ok {
		err = fmt.Errorf("unknown job kind: %s", job.Kind)
	} else {
		err = handler(ctx, job)
	}

	if err != nil {
		p.queue.retryOrBury(ctx, job, err)
		return
	}

	p.queue.markCompleted(ctx, job)
	p.logger.LogInfo("Job finished", map[string]interface{}{
		"jobId":      job.ID,
		"kind":       job.Kind,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}
