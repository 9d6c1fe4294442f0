package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrMissingReceiver is returned for notifications without a receiver.
var ErrMissingReceiver = errors.New("notify: missing receiver")

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher fans a notification out to every sink. Delivery is best effort:
// a failing sink is logged and reported but does not stop the others.
type Dispatcher struct {
	sinks       []Sink
	limiter     *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
	idGenerator func() string
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:       sinks,
		logger:      slog.Default().With("component", "notify"),
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// WithRateLimit throttles dispatches to perSecond with the given burst.
func (d *Dispatcher) WithRateLimit(perSecond float64, burst int) *Dispatcher {
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return d
}

func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) WithIDGenerator(gen func() string) *Dispatcher {
	d.idGenerator = gen
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if n.ReceiverID == "" {
		return ErrMissingReceiver
	}
	if n.ID == "" {
		n.ID = d.idGenerator()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notify: throttle: %w", err)
		}
	}

	var g errgroup.Group
	for _, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, n); err != nil {
				d.logger.Warn("notification delivery failed",
					"sink", sink.Name(),
					"receiver_id", n.ReceiverID,
					"data_id", n.DataID,
					"error", err,
				)
				return fmt.Errorf("notify: %s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
