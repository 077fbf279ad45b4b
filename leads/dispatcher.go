package leads

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AnastRaja/chatbot-sub000/config"
)

// Dispatcher runs lead merges off the reply path on a bounded queue.
type Dispatcher struct {
	engine  *Engine
	jobs    chan MergeInput
	timeout time.Duration
	workers sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewDispatcher starts cfg.Workers goroutines consuming merge jobs.
func NewDispatcher(engine *Engine, cfg config.LeadsConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Dispatcher{
		engine:  engine,
		jobs:    make(chan MergeInput, queueSize),
		timeout: timeout,
	}
	for w := 0; w < workers; w++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.jobs {
				d.run(job)
			}
		}()
	}
	return d
}

// Submit queues a merge without blocking. It reports false when the job was dropped.
func (d *Dispatcher) Submit(in MergeInput) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Warn("leads: dispatcher closed, dropping merge", "project", in.ProjectID, "session", in.SessionID)
		return false
	}
	select {
	case d.jobs <- in:
		return true
	default:
		log.Warn("leads: merge queue full, dropping merge", "project", in.ProjectID, "session", in.SessionID)
		return false
	}
}

// Close stops accepting jobs and waits for queued merges to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) run(in MergeInput) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("leads: merge panic", "project", in.ProjectID, "session", in.SessionID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	lead, err := d.engine.Merge(ctx, in)
	if err != nil {
		log.Warn("leads: merge failed", "project", in.ProjectID, "session", in.SessionID, "err", err)
		return
	}
	if lead != nil {
		log.Debug("leads: merged lead", "project", in.ProjectID, "lead", lead.ID)
	}
}
