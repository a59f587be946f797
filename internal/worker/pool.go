package worker

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"oddsedge-gateway/internal/metrics"
)

// Entry is one odds fetch job: a game and the sport it belongs to.
type Entry struct {
	GameID  string
	SportID string
}

// ProcessFunc handles one dequeued entry. Failures are the func's own
// business: the pool drops the entry either way and the next tick
// re-enqueues it from the hot set.
type ProcessFunc func(ctx context.Context, e Entry)

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Active     int  `json:"active"`
	Queued     int  `json:"queued"`
	Processing bool `json:"processing"`
}

// Pool drains a FIFO queue of odds fetch jobs under a concurrency cap.
// Workers cooperate: each one takes the next entry on completion or
// releases its slot, and the last slot to go idle with an empty queue
// fires the drain listener (the scheduler's tick-complete signal).
type Pool struct {
	mu      sync.Mutex
	queue   []Entry
	active  int
	max     int
	process ProcessFunc
	drainFn func()
	stopped bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func NewPool(maxConcurrency int, process ProcessFunc, logger *zap.Logger) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		max:     maxConcurrency,
		process: process,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger.Named("workerpool"),
	}
}

// OnDrain registers the listener fired each time the pool transitions
// from processing back to idle.
func (p *Pool) OnDrain(fn func()) {
	p.mu.Lock()
	p.drainFn = fn
	p.mu.Unlock()
}

// Enqueue appends a batch and spawns workers up to the concurrency cap.
// The queue itself does not de-duplicate; duplicate ids across
// back-to-back ticks are collapsed downstream by the coalescer.
func (p *Pool) Enqueue(batch []Entry) {
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, batch...)
	spawn := p.max - p.active
	if spawn > len(p.queue) {
		spawn = len(p.queue)
	}
	p.active += spawn
	p.updateGauges()
	p.mu.Unlock()

	for i := 0; i < spawn; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker consumes entries until the queue empties or the pool stops,
// then releases its slot. The final slot to release with nothing queued
// fires the drain listener.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if p.stopped || len(p.queue) == 0 {
			p.active--
			drained := p.active == 0 && len(p.queue) == 0
			fn := p.drainFn
			p.updateGauges()
			p.mu.Unlock()

			if drained && fn != nil {
				fn()
			}
			return
		}

		e := p.queue[0]
		p.queue = p.queue[1:]
		p.updateGauges()
		p.mu.Unlock()

		p.processOne(e)
	}
}

// processOne isolates a panic to the entry that caused it; the worker
// slot keeps running.
func (p *Pool) processOne(e Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("worker panic recovered",
				zap.Any("error", rec),
				zap.String("game_id", e.GameID),
				zap.String("sport_id", e.SportID),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	p.process(p.baseCtx, e)
}

// Stats returns the current queue and slot occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:     p.active,
		Queued:     len(p.queue),
		Processing: p.active > 0 || len(p.queue) > 0,
	}
}

// Stop drops queued work and lets in-flight entries finish until ctx
// expires, then cancels them. Idempotent.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.queue = nil
	p.updateGauges()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("stop grace period expired, cancelling in-flight fetches")
		p.cancel()
		<-done
	}
	p.cancel()
}

// updateGauges publishes occupancy; callers hold p.mu.
func (p *Pool) updateGauges() {
	metrics.WorkerPoolActive.Set(float64(p.active))
	metrics.WorkerPoolQueued.Set(float64(len(p.queue)))
}
