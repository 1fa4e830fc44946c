package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"sonix.click/internal/decode"
	"sonix.click/internal/memgov"
)

// Pool defaults
const (
	defaultPoolSize       = 2
	defaultQueueCapacity  = 8
	defaultIdleTimeout    = 30 * time.Second
	defaultHealthInterval = 10 * time.Second
	defaultHealthTimeout  = 5 * time.Second
	outputBufferSize      = 64
)

// PoolOptions configures pool construction. Zero values get defaults.
type PoolOptions struct {
	Size           int
	QueueCapacity  int
	IdleTimeout    time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration

	Fs       afero.Fs
	Governor *memgov.Governor
	Decoder  decode.FrameDecoder // external decoder override for every session
	Logger   *slog.Logger
}

func (o *PoolOptions) applyDefaults() {
	if o.Size <= 0 {
		o.Size = defaultPoolSize
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = defaultHealthInterval
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = defaultHealthTimeout
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// task is one accepted request plus its cancellation context. respondOnce
// guards the terminal response: the worker and the dispatcher can both
// reach a terminal condition for the same task (unresponsive-worker
// replacement races the worker's own cancellation), and only the first
// may emit.
type task struct {
	requestID   uuid.UUID
	req         ProcessingRequest
	ctx         context.Context
	cancel      context.CancelFunc
	respondOnce sync.Once
}

// healthProbe asks a worker to report on the shared response channel. The
// channel is buffered for the full probe cycle so workers never block on it.
type healthProbe struct {
	reply chan<- HealthCheckResponse
}

// workerHandle is the dispatcher's view of one worker. All fields except
// the channels are owned by the dispatcher goroutine.
type workerHandle struct {
	id       uuid.UUID
	requests chan *task
	health   chan healthProbe
	quit     chan struct{}

	busy      bool
	current   *task
	idleSince time.Time
}

type submitRequest struct {
	t     *task
	reply chan error
}

type cancelRequest struct {
	requestID uuid.UUID
	reply     chan error
}

type healthQuery struct {
	reply chan []HealthCheckResponse
}

// Pool schedules decode tasks across a fixed set of workers. All pool
// state lives in the dispatcher goroutine; callers and workers talk to it
// only through channels.
type Pool struct {
	opts   PoolOptions
	logger *slog.Logger

	out chan Message

	submitCh    chan submitRequest
	cancelCh    chan cancelRequest
	doneCh      chan *workerHandle
	healthReqCh chan healthQuery
	unhealthyCh chan uuid.UUID

	shutdownCh     chan struct{}
	dispatcherDone chan struct{}
	shutdownOnce   sync.Once

	wg sync.WaitGroup
}

// NewPool creates and starts a worker pool.
func NewPool(opts PoolOptions) *Pool {
	opts.applyDefaults()

	p := &Pool{
		opts:           opts,
		logger:         opts.Logger.With("component", "worker_pool"),
		out:            make(chan Message, outputBufferSize),
		submitCh:       make(chan submitRequest),
		cancelCh:       make(chan cancelRequest),
		doneCh:         make(chan *workerHandle),
		healthReqCh:    make(chan healthQuery),
		unhealthyCh:    make(chan uuid.UUID, defaultPoolSize*4),
		shutdownCh:     make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}

	p.logger.Info("starting worker pool",
		"size", opts.Size,
		"queue_capacity", opts.QueueCapacity,
		"idle_timeout", opts.IdleTimeout)

	go p.dispatch()
	return p
}

// Messages returns the pool's output stream. The channel is closed by
// Shutdown after all workers have stopped.
func (p *Pool) Messages() <-chan Message {
	return p.out
}

// Submit queues a decode request and returns the request id threading all
// of its messages. It fails with ErrQueueFull when every worker is busy
// and the queue is at capacity.
func (p *Pool) Submit(req ProcessingRequest) (uuid.UUID, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		requestID: uuid.New(),
		req:       req,
		ctx:       ctx,
		cancel:    cancel,
	}

	sr := submitRequest{t: t, reply: make(chan error, 1)}
	select {
	case p.submitCh <- sr:
	case <-p.shutdownCh:
		cancel()
		return uuid.Nil, ErrPoolClosed
	}

	if err := <-sr.reply; err != nil {
		cancel()
		return uuid.Nil, err
	}
	return t.requestID, nil
}

// Cancel requests cooperative cancellation of an in-flight or queued task.
// The task's terminal ProcessingResponse carries ErrCancelled.
func (p *Pool) Cancel(requestID uuid.UUID) error {
	cr := cancelRequest{requestID: requestID, reply: make(chan error, 1)}
	select {
	case p.cancelCh <- cr:
	case <-p.shutdownCh:
		return ErrPoolClosed
	}
	return <-cr.reply
}

// HealthCheck probes every worker and reports their responses. Workers
// that miss the probe deadline are reported unhealthy and replaced.
func (p *Pool) HealthCheck() ([]HealthCheckResponse, error) {
	q := healthQuery{reply: make(chan []HealthCheckResponse, 1)}
	select {
	case p.healthReqCh <- q:
	case <-p.shutdownCh:
		return nil, ErrPoolClosed
	}
	select {
	case responses := <-q.reply:
		return responses, nil
	case <-p.shutdownCh:
		return nil, ErrPoolClosed
	}
}

// Shutdown stops the dispatcher and all workers, then closes the message
// stream. In-flight tasks are abandoned at their next chunk boundary.
// Shutdown is idempotent.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Info("shutting down worker pool")
		close(p.shutdownCh)
		<-p.dispatcherDone
		p.wg.Wait()
		close(p.out)
	})
}

// dispatch owns all pool state: the worker set, the idle list (front is
// the longest-idle worker), the bounded queue, and the cancel functions.
func (p *Pool) dispatch() {
	defer close(p.dispatcherDone)

	workers := make(map[uuid.UUID]*workerHandle)
	var idle []*workerHandle
	var queue []*task
	cancels := make(map[uuid.UUID]context.CancelFunc)

	spawn := func() *workerHandle {
		w := &workerHandle{
			id:        uuid.New(),
			requests:  make(chan *task, 1),
			health:    make(chan healthProbe, 1),
			quit:      make(chan struct{}),
			idleSince: time.Now(),
		}
		workers[w.id] = w
		p.wg.Add(1)
		go p.runWorker(w)
		p.logger.Debug("worker spawned", "worker_id", w.id, "live_workers", len(workers))
		return w
	}

	retire := func(w *workerHandle, reason string) {
		close(w.quit)
		delete(workers, w.id)
		for i, cand := range idle {
			if cand == w {
				idle = append(idle[:i], idle[i+1:]...)
				break
			}
		}
		p.logger.Debug("worker retired",
			"worker_id", w.id,
			"reason", reason,
			"live_workers", len(workers))
	}

	assign := func(w *workerHandle, t *task) {
		w.busy = true
		w.current = t
		w.requests <- t
	}

	for i := 0; i < p.opts.Size; i++ {
		w := spawn()
		idle = append(idle, w)
	}

	idleTicker := time.NewTicker(p.opts.IdleTimeout / 2)
	defer idleTicker.Stop()
	healthTicker := time.NewTicker(p.opts.HealthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			for _, w := range workers {
				close(w.quit)
			}
			for _, cancel := range cancels {
				cancel()
			}
			return

		case sr := <-p.submitCh:
			switch {
			case len(idle) > 0:
				// Least-recently-used idle worker takes the task
				w := idle[0]
				idle = idle[1:]
				cancels[sr.t.requestID] = sr.t.cancel
				assign(w, sr.t)
				sr.reply <- nil
			case len(workers) < p.opts.Size:
				// Demand resumed after idle recycling
				w := spawn()
				cancels[sr.t.requestID] = sr.t.cancel
				assign(w, sr.t)
				sr.reply <- nil
			case len(queue) < p.opts.QueueCapacity:
				cancels[sr.t.requestID] = sr.t.cancel
				queue = append(queue, sr.t)
				sr.reply <- nil
			default:
				sr.reply <- fmt.Errorf("%w: %d tasks queued", ErrQueueFull, len(queue))
			}

		case cr := <-p.cancelCh:
			cancel, ok := cancels[cr.requestID]
			if !ok {
				cr.reply <- fmt.Errorf("%w: %s", ErrUnknownRequest, cr.requestID)
				break
			}
			cancel()
			// A queued task never reaches a worker, so the dispatcher
			// emits its terminal response itself
			for i, t := range queue {
				if t.requestID == cr.requestID {
					queue = append(queue[:i], queue[i+1:]...)
					delete(cancels, cr.requestID)
					p.respond(t, nil, ErrCancelled)
					break
				}
			}
			cr.reply <- nil

		case w := <-p.doneCh:
			if _, ok := workers[w.id]; !ok {
				// Worker was retired while finishing its task
				break
			}
			if w.current != nil {
				delete(cancels, w.current.requestID)
			}
			w.busy = false
			w.current = nil
			if len(queue) > 0 {
				t := queue[0]
				queue = queue[1:]
				assign(w, t)
			} else {
				w.idleSince = time.Now()
				idle = append(idle, w)
			}

		case <-idleTicker.C:
			// Retire from the front: longest idle first. Keep one worker
			// alive so a burst after quiet does not pay full spawn latency.
			for len(idle) > 1 && time.Since(idle[0].idleSince) > p.opts.IdleTimeout {
				w := idle[0]
				retire(w, "idle_timeout")
			}

		case <-healthTicker.C:
			p.probeWorkers(workers, nil)

		case q := <-p.healthReqCh:
			p.probeWorkers(workers, q.reply)

		case workerID := <-p.unhealthyCh:
			w, ok := workers[workerID]
			if !ok {
				break
			}
			p.logger.Warn("replacing unresponsive worker", "worker_id", w.id)
			if w.busy && w.current != nil {
				p.respond(w.current, nil, ErrUnresponsive)
				if cancel, ok := cancels[w.current.requestID]; ok {
					cancel()
					delete(cancels, w.current.requestID)
				}
			}
			wasIdle := !w.busy
			retire(w, "unresponsive")
			nw := spawn()
			if wasIdle {
				idle = append(idle, nw)
			} else if len(queue) > 0 {
				t := queue[0]
				queue = queue[1:]
				assign(nw, t)
			} else {
				idle = append(idle, nw)
			}
		}
	}
}

// probeWorkers sends every worker a health probe and hands collection to a
// goroutine so the dispatcher never blocks on slow workers.
func (p *Pool) probeWorkers(workers map[uuid.UUID]*workerHandle, reply chan []HealthCheckResponse) {
	expected := make(map[uuid.UUID]bool, len(workers))
	respCh := make(chan HealthCheckResponse, len(workers))

	for id, w := range workers {
		select {
		case w.health <- healthProbe{reply: respCh}:
			expected[id] = true
		default:
			// Probe channel still full from the last cycle: already suspect
			expected[id] = true
		}
	}

	go p.collectProbes(expected, respCh, reply)
}

// collectProbes gathers probe responses until the health timeout, reports
// missing workers unhealthy, and queues them for replacement.
func (p *Pool) collectProbes(expected map[uuid.UUID]bool, respCh <-chan HealthCheckResponse, reply chan []HealthCheckResponse) {
	deadline := time.NewTimer(p.opts.HealthTimeout)
	defer deadline.Stop()

	responses := make([]HealthCheckResponse, 0, len(expected))
	remaining := len(expected)

	for remaining > 0 {
		select {
		case resp := <-respCh:
			if expected[resp.WorkerID] {
				delete(expected, resp.WorkerID)
				remaining--
				responses = append(responses, resp)
			}
		case <-deadline.C:
			remaining = 0
		case <-p.shutdownCh:
			return
		}
	}

	for id := range expected {
		responses = append(responses, HealthCheckResponse{
			WorkerID:  id,
			Healthy:   false,
			Timestamp: time.Now(),
		})
		select {
		case p.unhealthyCh <- id:
		default:
			p.logger.Warn("unhealthy worker report dropped", "worker_id", id)
		}
	}

	if reply != nil {
		reply <- responses
	}
}

// runWorker is one worker's main loop: wait for a task, run it, hand the
// handle back to the dispatcher, answer health probes while idle.
func (p *Pool) runWorker(w *workerHandle) {
	defer p.wg.Done()

	for {
		select {
		case <-w.quit:
			return
		case <-p.shutdownCh:
			return
		case probe := <-w.health:
			probe.reply <- p.healthResponse(w, 0)
		case t := <-w.requests:
			p.runTask(w, t)
			select {
			case p.doneCh <- w:
			case <-w.quit:
				return
			case <-p.shutdownCh:
				return
			}
		}
	}
}

// healthResponse builds a probe reply for this worker.
func (p *Pool) healthResponse(w *workerHandle, activeTasks int) HealthCheckResponse {
	var used uint64
	if p.opts.Governor != nil {
		used = p.opts.Governor.GetSnapshot().Used
	}
	return HealthCheckResponse{
		WorkerID:    w.id,
		Healthy:     true,
		ActiveTasks: activeTasks,
		MemoryUsed:  used,
		Timestamp:   time.Now(),
	}
}

// emit delivers a message without ever blocking a worker across shutdown.
func (p *Pool) emit(msg Message) {
	select {
	case p.out <- msg:
	case <-p.shutdownCh:
	}
}

func (p *Pool) emitProgress(requestID uuid.UUID, progress float64, status string, partial *decode.AudioChunk) {
	p.emit(ProgressUpdate{
		envelope:      newEnvelope(requestID),
		Progress:      progress,
		StatusMessage: status,
		PartialData:   partial,
	})
}

// respond emits the task's terminal response, whichever side reaches a
// terminal condition first. Later calls for the same task are dropped.
func (p *Pool) respond(t *task, result *TaskResult, err error) {
	t.respondOnce.Do(func() {
		p.emit(ProcessingResponse{
			envelope:   newEnvelope(t.requestID),
			Result:     result,
			Err:        err,
			IsComplete: true,
		})
	})
}
