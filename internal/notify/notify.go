// Package notify delivers account emails off the request path.  The
// Dispatcher hands each event to a Deliverer in a background goroutine so a
// slow or failing mail system never fails a request.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/auth-service/internal/mail"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/queue"
)

// Deliverer performs one delivery synchronously and reports its error.
type Deliverer interface {
	Deliver(ctx context.Context, ev queue.EmailEvent) error
}

// Notifier is what the auth service depends on.
type Notifier interface {
	Dispatch(ctx context.Context, ev queue.EmailEvent)
}

// Direct renders and sends in-process.  It is used by the queue consumer and
// when no broker is configured.
type Direct struct {
	Renderer *mail.Renderer
	Sender   mail.Sender
}

func (d *Direct) Deliver(ctx context.Context, ev queue.EmailEvent) error {
	msg, err := d.Renderer.Render(ev.Template, ev.To, mail.Data{Name: ev.Name, URL: ev.URL, ExpiresIn: ev.ExpiresIn})
	if err != nil {
		return err
	}
	return d.Sender.Send(ctx, msg)
}

// Publish hands events to the broker.
type Publish struct {
	Publisher *queue.Publisher
}

func (p *Publish) Deliver(ctx context.Context, ev queue.EmailEvent) error {
	return p.Publisher.Publish(ctx, ev)
}

// Dispatcher runs deliveries in tracked goroutines.
type Dispatcher struct {
	deliverer Deliverer
	log       *slog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(d Deliverer, log *slog.Logger, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{deliverer: d, log: log, metrics: m, timeout: timeout}
}

// Dispatch returns immediately.  The delivery runs detached from the request
// context, bounded by the dispatcher timeout.  Events dispatched after Close
// are dropped and logged.
func (d *Dispatcher) Dispatch(_ context.Context, ev queue.EmailEvent) {
	if ev.RequestedAt.IsZero() {
		ev.RequestedAt = time.Now().UTC()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("notification dropped, dispatcher closed", "template", ev.Template, "to", ev.To)
		d.metrics.Notification(ev.Template, "dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification panicked", "template", ev.Template, "panic", r)
				d.metrics.Notification(ev.Template, "failed")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.deliverer.Deliver(ctx, ev); err != nil {
			d.log.Error("notification failed", "template", ev.Template, "to", ev.To, "err", err)
			d.metrics.Notification(ev.Template, "failed")
			return
		}
		d.log.Debug("notification delivered", "template", ev.Template, "to", ev.To)
		d.metrics.Notification(ev.Template, "sent")
	}()
}

// Close stops accepting events and waits for in-flight deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
