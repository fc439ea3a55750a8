package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/clinic"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

// Appender stores a batch of events atomically
type Appender interface {
	Append(ctx context.Context, events ...*clinic.Event) error
}

// JournalObserver receives journal progress. Implemented by the metrics package.
type JournalObserver interface {
	JournalBacklog(n int)
	JournalWritten(n int)
	JournalDropped(n int)
}

type nopJournalObserver struct{}

func (nopJournalObserver) JournalBacklog(int) {}
func (nopJournalObserver) JournalWritten(int) {}
func (nopJournalObserver) JournalDropped(int) {}

// JournalConfig holds configuration for the journal writer
type JournalConfig struct {
	// BufferSize is the backlog above which Err reports ErrJournalBacklog
	BufferSize int
	// MaxBatch caps how many events go into one transaction
	MaxBatch int
	// MaxRetries is how often a failed batch is retried before it is dropped
	MaxRetries int
	// RetryDelay grows linearly with the attempt number
	RetryDelay time.Duration
	// WriteTimeout bounds one Append call
	WriteTimeout time.Duration
	// DrainTimeout bounds how long Close keeps writing buffered events
	DrainTimeout time.Duration
}

// DefaultJournalConfig returns sensible defaults
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BufferSize:   1024,
		MaxBatch:     100,
		MaxRetries:   5,
		RetryDelay:   200 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		DrainTimeout: 30 * time.Second,
	}
}

var errJournalClosed = errors.New("journal closed")

// ErrJournalBacklog is reported by Err while more than BufferSize events are
// waiting for the writer.
var ErrJournalBacklog = errors.New("journal backlog over limit")

// Journal is a clinic.EventSink that writes events to the event store in the
// background. Events keep their commit order. Record never blocks; a writer
// that falls behind shows up through Err.
type Journal struct {
	store    Appender
	breaker  *circuitbreaker.CircuitBreaker
	config   JournalConfig
	logger   *zap.Logger
	observer JournalObserver

	mu      sync.Mutex
	pending []*clinic.Event
	closed  bool
	notify  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	written int64
	dropped int64
}

// JournalOption configures a Journal
type JournalOption func(*Journal)

// WithJournalObserver reports backlog and write counts to o
func WithJournalObserver(o JournalObserver) JournalOption {
	return func(j *Journal) {
		if o != nil {
			j.observer = o
		}
	}
}

// NewJournal creates a journal. breaker may be nil.
func NewJournal(store Appender, breaker *circuitbreaker.CircuitBreaker, cfg JournalConfig, logger *zap.Logger, opts ...JournalOption) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultJournalConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		store:    store,
		breaker:  breaker,
		config:   cfg,
		logger:   logger,
		observer: nopJournalObserver{},
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

var _ clinic.EventSink = (*Journal)(nil)

// Start launches the writer
func (j *Journal) Start() {
	go j.writeLoop()
	j.logger.Info("journal started",
		zap.Int("buffer_size", j.config.BufferSize),
		zap.Int("max_batch", j.config.MaxBatch))
}

// Record queues event for writing
func (j *Journal) Record(event *clinic.Event) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		j.drop([]*clinic.Event{event}, errJournalClosed)
		return
	}
	j.pending = append(j.pending, event)
	backlog := len(j.pending)
	j.mu.Unlock()

	j.observer.JournalBacklog(backlog)
	j.wake()
}

// Err returns an error wrapping ErrJournalBacklog while the backlog exceeds
// BufferSize.
func (j *Journal) Err() error {
	j.mu.Lock()
	backlog := len(j.pending)
	j.mu.Unlock()
	if backlog > j.config.BufferSize {
		return fmt.Errorf("%w: %d events pending, limit %d", ErrJournalBacklog, backlog, j.config.BufferSize)
	}
	return nil
}

// Close stops accepting events and writes what is buffered, waiting at most
// DrainTimeout.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	j.wake()

	select {
	case <-j.done:
		j.logger.Info("journal drained",
			zap.Int64("written", atomic.LoadInt64(&j.written)),
			zap.Int64("dropped", atomic.LoadInt64(&j.dropped)))
		return nil
	case <-time.After(j.config.DrainTimeout):
		j.cancel()
		<-j.done
		return errors.New("journal drain timed out")
	}
}

// Written returns the number of events stored so far
func (j *Journal) Written() int64 {
	return atomic.LoadInt64(&j.written)
}

// Dropped returns the number of events given up on
func (j *Journal) Dropped() int64 {
	return atomic.LoadInt64(&j.dropped)
}

func (j *Journal) wake() {
	select {
	case j.notify <- struct{}{}:
	default:
	}
}

func (j *Journal) writeLoop() {
	defer close(j.done)

	for {
		batch, closed := j.take()
		if len(batch) > 0 {
			j.write(batch)
			continue
		}
		if closed {
			return
		}
		select {
		case <-j.notify:
		case <-j.ctx.Done():
			if rest, _ := j.take(); len(rest) > 0 {
				j.drop(rest, j.ctx.Err())
			}
			return
		}
	}
}

// take removes up to MaxBatch events from the front of the backlog
func (j *Journal) take() ([]*clinic.Event, bool) {
	j.mu.Lock()
	n := min(len(j.pending), j.config.MaxBatch)
	batch := append([]*clinic.Event(nil), j.pending[:n]...)
	j.pending = j.pending[n:]
	if len(j.pending) == 0 {
		j.pending = nil
	}
	backlog, closed := len(j.pending), j.closed
	j.mu.Unlock()

	if n > 0 {
		j.observer.JournalBacklog(backlog)
	}
	return batch, closed
}

func (j *Journal) write(batch []*clinic.Event) {
	var lastErr error
	for attempt := 0; attempt <= j.config.MaxRetries; attempt++ {
		if j.ctx.Err() != nil {
			j.drop(batch, j.ctx.Err())
			return
		}

		lastErr = j.append(batch)
		if lastErr == nil {
			atomic.AddInt64(&j.written, int64(len(batch)))
			j.observer.JournalWritten(len(batch))
			return
		}

		if attempt < j.config.MaxRetries {
			j.logger.Warn("journal write failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int64("first_sequence", batch[0].Sequence),
				zap.Error(lastErr))
			select {
			case <-j.ctx.Done():
			case <-time.After(j.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}
	j.drop(batch, lastErr)
}

func (j *Journal) append(batch []*clinic.Event) error {
	ctx, cancel := context.WithTimeout(j.ctx, j.config.WriteTimeout)
	defer cancel()

	if j.breaker == nil {
		return j.store.Append(ctx, batch...)
	}
	return j.breaker.Run(ctx, func(ctx context.Context) error {
		return j.store.Append(ctx, batch...)
	})
}

func (j *Journal) drop(batch []*clinic.Event, err error) {
	atomic.AddInt64(&j.dropped, int64(len(batch)))
	j.observer.JournalDropped(len(batch))

	seqs := make([]int64, len(batch))
	for i, e := range batch {
		seqs[i] = e.Sequence
	}
	j.logger.Error("journal dropped events",
		zap.Int64s("sequences", seqs),
		zap.Error(err))
}
