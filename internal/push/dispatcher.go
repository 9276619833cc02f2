package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// Sender runs one fan-out.
type Sender interface {
	Send(ctx context.Context, notificationID string) (*domain.PushResult, error)
}

var (
	// ErrQueueFull is returned by Enqueue when the dispatcher cannot take more work.
	ErrQueueFull = errors.New("push queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("push dispatcher stopped")
)

// Dispatcher runs fan-outs for newly inserted notifications on a fixed pool of workers.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	queue   chan uuid.UUID
	workers int
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewDispatcher(sender Sender, workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan uuid.UUID, queueSize),
		workers: workers,
	}
}

// Start launches the workers. They exit once ctx is done or Stop closes the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}
}

// Stop closes the queue and waits for queued fan-outs to finish. Call it before canceling the
// context given to Start, or the remaining fan-outs are abandoned.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// HandleChange is a change handler: inserts are queued, everything else is ignored.
func (d *Dispatcher) HandleChange(ev domain.ChangeEvent) {
	if ev.Op != domain.OpInsert {
		return
	}
	if err := d.Enqueue(ev.NotificationID); err != nil {
		d.logger.Warn("dropping push fan-out", zap.String("notification_id", ev.NotificationID.String()), zap.Error(err))
	}
}

// Enqueue queues one fan-out without blocking.
func (d *Dispatcher) Enqueue(id uuid.UUID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-d.queue:
			if !ok {
				return
			}
			d.dispatch(ctx, id)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, id uuid.UUID) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := d.sender.Send(ctx, id.String())
	if err != nil {
		d.logger.Error("push fan-out failed", zap.String("notification_id", id.String()), zap.Error(err))
		return
	}
	d.logger.Debug("push fan-out finished",
		zap.String("notification_id", id.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("sent", result.Sent),
	)
}
