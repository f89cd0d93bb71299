package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 2 * time.Second

// Recorder writes records to a Store from a single background worker so
// callers never wait on the database. When the queue is full the record is
// dropped and OnDrop is called.
type Recorder struct {
	store  Store
	logger *zap.Logger
	queue  chan Record
	onDrop func()
	onFail func(error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type RecorderOptions struct {
	QueueSize int
	Logger    *zap.Logger
	OnDrop    func()
	OnFail    func(error)
}

func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Recorder{
		store:  store,
		logger: opts.Logger.With(zap.String("component", "turn_journal")),
		queue:  make(chan Record, opts.QueueSize),
		onDrop: opts.OnDrop,
		onFail: opts.OnFail,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues rec without blocking. Records arriving after Close are
// dropped.
func (r *Recorder) Record(rec Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Debug("turn journal closed, dropping record", zap.String("turn_id", rec.TurnID))
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("turn journal queue full, dropping record",
			zap.String("session_id", rec.SessionID), zap.String("turn_id", rec.TurnID))
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

// Close drains queued records and waits for the worker. The store itself is
// left open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := r.store.Save(ctx, rec)
		cancel()
		if err != nil {
			r.logger.Warn("turn journal save failed", zap.String("turn_id", rec.TurnID), zap.Error(err))
			if r.onFail != nil {
				r.onFail(err)
			}
		}
	}
}
