package workers

import (
	"context"
	"fmt"
	"sync"

	"xhbook/internal/components/telemetry"
)

const (
	report_pool_task   = "pool.task"
	report_pool_submit = "pool.submit"
)

// Task is a unit of background work. The context it receives is cancelled
// once the pool is closed and drained.
type Task func(ctx context.Context)

type job struct {
	name string
	task Task
}

type Config struct {
	Workers int `json:"workers"`
	// number of tasks that may wait for a free worker before Submit starts rejecting
	BufferSize int `json:"buffer_size"`
}

// Pool is a fixed set of goroutines draining a bounded queue. A panicking
// task is reported as broken and does not take its worker down with it.
type Pool struct {
	name string
	tel  telemetry.API

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex   sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
}

// New starts the pool's workers immediately.
func New(name string, config Config, tel telemetry.API) *Pool {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		tel:    telemetry.NewScopedAPI(name, tel),
		jobs:   make(chan job, config.BufferSize),
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task without blocking. It returns false when the queue is
// full or the pool has been closed, the task is then dropped.
func (p *Pool) Submit(name string, task Task) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		p.tel.ReportWarning(report_pool_submit, name, "pool closed")
		return false
	}
	select {
	case p.jobs <- job{name: name, task: task}:
		p.pending++
		return true
	default:
		p.tel.ReportWarning(report_pool_submit, name, "queue full")
		return false
	}
}

// Wait blocks until every submitted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for {
		p.mutex.Lock()
		if p.pending == 0 {
			p.mutex.Unlock()
			return nil
		}
		idle := p.idle
		p.mutex.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting tasks, lets the queued ones finish, then stops the
// workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mutex.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.tel.ReportBroken(report_pool_task, j.name, fmt.Errorf("panic: %v", r))
		}

		p.mutex.Lock()
		p.pending--
		if p.pending == 0 {
			close(p.idle)
			p.idle = make(chan struct{})
		}
		p.mutex.Unlock()
	}()
	j.task(p.ctx)
}
