package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/pkg/queue"
)

// Result classifies the outcome of handling one message. The dispatch loop's
// ack decision is a pure function of this value: Ack and Discard both
// acknowledge (the message is done, successfully or deliberately dropped),
// Retry leaves the delivery pending so the broker redelivers it.
type Result int

const (
	ResultAck Result = iota
	ResultRetry
	ResultDiscard
)

func (r Result) String() string {
	switch r {
	case ResultAck:
		return "ack"
	case ResultRetry:
		return "retry"
	case ResultDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Handler processes one delivery and classifies the outcome.
type Handler func(ctx context.Context, msg queue.Message) Result

// Broker is the consumer-facing slice of the queue.
type Broker interface {
	EnsureGroup(ctx context.Context, stream string) error
	Fetch(ctx context.Context, stream string) (*queue.Message, error)
	Ack(ctx context.Context, stream, id string) error
}

// Observer receives per-message processing telemetry.
type Observer interface {
	ObserveMessage(stream, result string, duration time.Duration)
}

// Worker is a single-stream consumption loop: one message in flight at a
// time, scaled horizontally by running more worker processes.
type Worker struct {
	broker     Broker
	stream     string
	handler    Handler
	logger     *zap.Logger
	observer   Observer
	retryDelay time.Duration
}

// New builds a worker for one stream.
func New(broker Broker, stream string, handler Handler, logger *zap.Logger, observer Observer) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		broker:     broker,
		stream:     stream,
		handler:    handler,
		logger:     logger,
		observer:   observer,
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is cancelled. Cancellation stops new fetches; the
// in-flight message is finished and acknowledged before returning, so
// graceful shutdown never abandons a half-processed delivery.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := w.broker.EnsureGroup(ctx, w.stream)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("group creation failed", zap.String("stream", w.stream), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
	w.logger.Info("worker started", zap.String("stream", w.stream))
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped", zap.String("stream", w.stream))
			return nil
		}
		msg, err := w.broker.Fetch(ctx, w.stream)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped", zap.String("stream", w.stream))
				return nil
			}
			w.logger.Warn("fetch failed", zap.String("stream", w.stream), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}
		if msg == nil {
			continue
		}
		w.process(context.WithoutCancel(ctx), *msg)
	}
}

func (w *Worker) process(ctx context.Context, msg queue.Message) {
	start := time.Now()
	result := w.safeHandle(ctx, msg)
	elapsed := time.Since(start)

	switch result {
	case ResultAck, ResultDiscard:
		if err := w.broker.Ack(ctx, w.stream, msg.ID); err != nil {
			// The broker will redeliver; the handler must stay idempotent.
			w.logger.Warn("ack failed", zap.String("stream", w.stream), zap.String("message_id", msg.ID), zap.Error(err))
		}
	case ResultRetry:
		w.logger.Warn("message left pending for redelivery",
			zap.String("stream", w.stream),
			zap.String("message_id", msg.ID),
			zap.Bool("redelivered", msg.Redelivered),
		)
	}

	if w.observer != nil {
		w.observer.ObserveMessage(w.stream, result.String(), elapsed)
	}
}

// safeHandle shields the consume loop from handler panics: a panicking
// message is retried, never allowed to kill the worker.
func (w *Worker) safeHandle(ctx context.Context, msg queue.Message) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panic",
				zap.String("stream", w.stream),
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
			result = ResultRetry
		}
	}()
	return w.handler(ctx, msg)
}

// Pool runs a set of workers and waits for them on shutdown.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewPool builds an empty pool.
func NewPool(logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{logger: logger}
}

// Add registers a worker with the pool.
func (p *Pool) Add(w *Worker) {
	p.workers = append(p.workers, w)
}

// Start launches every worker. Each runs until ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			if err := w.Run(ctx); err != nil {
				p.logger.Error("worker exited", zap.String("stream", w.stream), zap.Error(err))
			}
		}(w)
	}
}

// Wait blocks until every worker has drained its in-flight message and
// returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
