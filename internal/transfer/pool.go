package transfer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// Handler processes one record once it holds a worker slot
type Handler func(ctx context.Context, rec *Record)

// Pool bounds how many records run at once. Each submitted record gets its
// own goroutine that waits for a slot; a record cancelled while waiting is
// handed to the handler straight away so it can end as Canceled.
type Pool struct {
	maxWorkers int
	slots      chan struct{}
	activeJobs sync.Map // map[string]*Record, records holding a slot
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	handler    Handler
	logger     *zap.Logger
	mu         sync.RWMutex
	started    bool
}

// NewPool creates a pool with maxWorkers slots
func NewPool(maxWorkers int, handler Handler, logger *zap.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	return &Pool{
		maxWorkers: maxWorkers,
		slots:      make(chan struct{}, maxWorkers),
		handler:    handler,
		logger:     monitoring.Component(logger, "transfer_pool"),
	}
}

// Start makes the pool accept records
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	if p.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	return nil
}

// Submit schedules rec. It never blocks.
func (p *Pool) Submit(rec *Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return fmt.Errorf("worker pool not started")
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("worker pool is shutting down")
	}

	p.wg.Add(1)
	go p.process(rec)
	return nil
}

func (p *Pool) process(rec *Record) {
	defer p.wg.Done()

	// The run is cancelled by the record's own handle or by pool shutdown
	ctx, cancel := context.WithCancel(rec.Context())
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		p.handler(ctx, rec)
		return
	}

	p.activeJobs.Store(rec.ID(), rec)
	defer p.activeJobs.Delete(rec.ID())

	p.logger.Debug("Transfer acquired worker slot",
		zap.String("id", rec.ID()),
		zap.String("source", rec.SourceURI()))

	p.handler(ctx, rec)
}

// Stop cancels every record and waits for their handlers to return
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}

// CancelJob cancels a running record by ID
func (p *Pool) CancelJob(id string) error {
	value, ok := p.activeJobs.Load(id)
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	rec, ok := value.(*Record)
	if !ok {
		return fmt.Errorf("invalid job type for ID: %s", id)
	}

	rec.Cancel()
	return nil
}

// ActiveCount returns the number of records holding a slot
func (p *Pool) ActiveCount() int {
	count := 0
	p.activeJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// IsActive reports whether the record holds a slot
func (p *Pool) IsActive(id string) bool {
	_, ok := p.activeJobs.Load(id)
	return ok
}

// MaxWorkers returns the number of slots
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}
