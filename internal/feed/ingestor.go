// Package feed owns the exchange connection and turns wire messages into an
// ordered stream of book updates. It handles reconnection with exponential
// backoff, sequence gap detection with forced resynchronization, and emits
// into a bounded single-consumer queue with a drop-oldest overflow policy.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// State is the ingestor lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer for status reporting.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn abstracts one exchange connection so the reconnect loop and tests do
// not depend on a real transport.
type Conn interface {
	Subscribe(ctx context.Context) error
	// Resync requests a fresh full snapshot on the live connection.
	Resync(ctx context.Context) error
	// ReadUpdate blocks for the next parsed update; it returns
	// domain.ErrClosed once the connection is shut down.
	ReadUpdate() (domain.BookUpdate, error)
	Close() error
}

// Dialer opens a new connection. A fresh Conn is created per attempt.
type Dialer func(ctx context.Context, connectTimeout time.Duration) (Conn, error)

// BackoffConfig parameterizes reconnect delays.
type BackoffConfig struct {
	Base           time.Duration
	Multiplier     float64
	Max            time.Duration
	JitterFraction float64
}

// Config holds the ingestor parameters.
type Config struct {
	Exchange       string
	Asset          string
	ConnectTimeout time.Duration
	QueueSize      int
	Backoff        BackoffConfig
}

// Ingestor owns the network connection and produces an ordered stream of
// book updates until explicitly stopped. Exactly one consumer reads Events.
type Ingestor struct {
	cfg  Config
	dial Dialer

	events chan domain.BookUpdate
	state  atomic.Int32

	// lastSeq is the sequence of the last emitted update; diffs that are not
	// contiguous with it trigger a forced resync.
	lastSeq      uint64
	awaitingSync bool

	resyncReq atomic.Bool
	dropped   atomic.Uint64

	latency *latencyWindow

	closeOnce sync.Once
	done      chan struct{}

	rng    *rand.Rand
	logger *slog.Logger
}

// New creates an ingestor. The dialer is invoked for every connection
// attempt.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Ingestor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = 2
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = time.Minute
	}
	return &Ingestor{
		cfg:     cfg,
		dial:    dial,
		events:  make(chan domain.BookUpdate, cfg.QueueSize),
		latency: newLatencyWindow(512),
		done:    make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With(
			slog.String("component", "ingestor"),
			slog.String("exchange", cfg.Exchange),
			slog.String("asset", cfg.Asset),
		),
	}
}

// Events returns the single-consumer update queue. It is closed after the
// ingestor reaches the Closed state.
func (in *Ingestor) Events() <-chan domain.BookUpdate { return in.events }

// State returns the current lifecycle state.
func (in *Ingestor) State() State { return State(in.state.Load()) }

// Dropped returns how many updates were evicted by the drop-oldest policy.
func (in *Ingestor) Dropped() uint64 { return in.dropped.Load() }

// LatencyMs returns the rolling average and maximum receive-to-enqueue
// latency in milliseconds.
func (in *Ingestor) LatencyMs() (avg, max float64) { return in.latency.Stats() }

// RequestResync asks the ingestor to discard buffered diffs and consume a
// fresh snapshot. Used by the consumer when the book store reports a gap or a
// crossed state.
func (in *Ingestor) RequestResync() { in.resyncReq.Store(true) }

// Close transitions the ingestor to Closed and unblocks the consumer. Closed
// is terminal.
func (in *Ingestor) Close() {
	in.closeOnce.Do(func() { close(in.done) })
}

// Run drives the connect/stream/reconnect loop until the context is
// cancelled or Close is called. Reconnection retries indefinitely with
// bounded exponential backoff; the attempt counter resets once streaming.
func (in *Ingestor) Run(ctx context.Context) error {
	defer close(in.events)
	defer in.setState(StateClosed)

	attempt := 0
	for {
		if err := in.stopped(ctx); err != nil {
			if errors.Is(err, errDone) {
				return nil
			}
			return err
		}

		in.setState(StateConnecting)
		conn, err := in.dial(ctx, in.cfg.ConnectTimeout)
		if err != nil {
			in.logger.Warn("connect failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if err := in.waitBackoff(ctx, attempt); err != nil {
				return err
			}
			attempt++
			continue
		}

		streamed, err := in.stream(ctx, conn)
		_ = conn.Close()

		if stopErr := in.stopped(ctx); stopErr != nil {
			if errors.Is(stopErr, errDone) {
				return nil
			}
			return stopErr
		}

		if streamed {
			attempt = 0
		}
		in.setState(StateReconnecting)
		in.logger.Warn("stream interrupted, reconnecting",
			slog.Int("attempt", attempt),
			slog.String("error", errString(err)),
		)
		if err := in.waitBackoff(ctx, attempt); err != nil {
			return err
		}
		attempt++
	}
}

// stream subscribes and reads updates until the connection fails or the
// ingestor is stopped. It reports whether the connection reached Streaming,
// which resets the caller's reconnect attempt counter. A nil error means the
// transport closed cleanly.
func (in *Ingestor) stream(ctx context.Context, conn Conn) (bool, error) {
	in.setState(StateSubscribed)
	if err := conn.Subscribe(ctx); err != nil {
		return false, err
	}

	// Unblock the pending read when the ingestor is stopped.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-in.done:
			_ = conn.Close()
		case <-ctx.Done():
			_ = conn.Close()
		case <-readerDone:
		}
	}()

	streaming := false
	for {
		if in.resyncReq.Swap(false) {
			in.forceResync(ctx, conn, "consumer requested")
		}

		update, err := conn.ReadUpdate()
		if err != nil {
			if errors.Is(err, domain.ErrClosed) {
				return streaming, nil
			}
			return streaming, err
		}

		if !streaming {
			in.setState(StateStreaming)
			streaming = true
		}

		switch update.Type {
		case domain.UpdateSnapshot:
			in.lastSeq = update.Sequence
			in.awaitingSync = false
		case domain.UpdateDiff:
			if in.awaitingSync {
				// Discard diffs until the fresh snapshot arrives.
				continue
			}
			if update.Sequence <= in.lastSeq {
				in.forceResync(ctx, conn, "sequence regression")
				continue
			}
			if update.Sequence > in.lastSeq+1 {
				in.forceResync(ctx, conn, "sequence gap")
				continue
			}
			in.lastSeq = update.Sequence
		}

		in.emit(update)
	}
}

// forceResync discards buffered diffs and requests a fresh snapshot.
func (in *Ingestor) forceResync(ctx context.Context, conn Conn, reason string) {
	in.logger.Warn("forcing resynchronization",
		slog.String("reason", reason),
		slog.Uint64("last_seq", in.lastSeq),
	)
	in.awaitingSync = true
	in.drainQueue()
	if err := conn.Resync(ctx); err != nil {
		in.logger.Warn("resync request failed", slog.String("error", err.Error()))
	}
}

// emit enqueues an update, evicting the oldest entry when the queue is full
// so a slow consumer cannot grow memory without bound.
func (in *Ingestor) emit(u domain.BookUpdate) {
	for {
		select {
		case in.events <- u:
			if !u.Received.IsZero() {
				in.latency.Record(time.Since(u.Received))
			}
			return
		default:
		}
		select {
		case <-in.events:
			in.dropped.Add(1)
		default:
		}
	}
}

// drainQueue empties any buffered (now stale) updates.
func (in *Ingestor) drainQueue() {
	for {
		select {
		case <-in.events:
			in.dropped.Add(1)
		default:
			return
		}
	}
}

// backoffDelay computes the deterministic part of the reconnect delay:
// min(base × multiplier^attempt, max).
func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	d := float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.Max) {
		return cfg.Max
	}
	return time.Duration(d)
}

// jitteredDelay adds random jitter in [0, delay x jitterFraction] on top of
// the deterministic backoff delay.
func jitteredDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	delay := backoffDelay(cfg, attempt)
	if cfg.JitterFraction > 0 {
		delay += time.Duration(rng.Float64() * cfg.JitterFraction * float64(delay))
	}
	return delay
}

// waitBackoff sleeps for the jittered backoff delay, honoring cancellation.
func (in *Ingestor) waitBackoff(ctx context.Context, attempt int) error {
	delay := jitteredDelay(in.cfg.Backoff, attempt, in.rng)

	in.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.done:
		return nil
	case <-time.After(delay):
		return nil
	}
}

// stopped reports whether the ingestor should terminate.
func (in *Ingestor) stopped(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.done:
		return errDone
	default:
		return nil
	}
}

// errDone signals that Close was called; Run converts it to a clean nil
// return.
var errDone = errors.New("ingestor stopped")

func (in *Ingestor) setState(s State) { in.state.Store(int32(s)) }

func errString(err error) string {
	if err == nil {
		return "clean close"
	}
	return err.Error()
}
