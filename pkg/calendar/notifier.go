package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teslashibe/bobbys-table/internal/httpc"
	"github.com/teslashibe/bobbys-table/internal/log"
)

// Publisher delivers a refresh event somewhere.
type Publisher interface {
	Publish(ctx context.Context, e RefreshEvent) error
}

// HTTPPublisher posts refresh events to a refresh-trigger endpoint, for
// deployments where the websocket hub lives in another process.
type HTTPPublisher struct {
	URL    string
	Client *http.Client
}

// NewHTTPPublisher creates a publisher posting to url.
func NewHTTPPublisher(url string) *HTTPPublisher {
	return &HTTPPublisher{URL: url, Client: httpc.NewClient(httpc.RefreshTimeout)}
}

// Publish posts e and expects 200.
func (p *HTTPPublisher) Publish(ctx context.Context, e RefreshEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	resp, err := httpc.PostJSON(ctx, p.Client, p.URL, body)
	if err != nil {
		return fmt.Errorf("calendar: refresh post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar: refresh post: status %d", resp.StatusCode)
	}
	return nil
}

// Mirror keeps an external calendar in step with reservations.
type Mirror interface {
	Sync(ctx context.Context, e RefreshEvent) error
}

// Notifier sends refresh events in the background. Failures are logged and
// never reach the caller. A nil *Notifier is a no-op.
type Notifier struct {
	publishers []Publisher
	mirror     Mirror
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithPublisher adds a publisher.
func WithPublisher(p Publisher) NotifierOption {
	return func(n *Notifier) {
		if p != nil {
			n.publishers = append(n.publishers, p)
		}
	}
}

// WithMirror sets the external calendar mirror.
func WithMirror(m Mirror) NotifierOption {
	return func(n *Notifier) {
		n.mirror = m
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithNotifierLogger sets the logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNotifier creates a notifier.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{timeout: httpc.RefreshTimeout}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = log.Component("calendar")
	}
	return n
}

// Notify validates e and delivers it asynchronously.
func (n *Notifier) Notify(e RefreshEvent) {
	if n == nil {
		return
	}
	if err := e.Validate(); err != nil {
		n.logger.Warn("calendar refresh skipped", "error", err)
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(e)
	}()
}

func (n *Notifier) deliver(e RefreshEvent) {
	for _, p := range n.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := p.Publish(ctx, e)
		cancel()
		if err != nil {
			n.logger.Warn("calendar refresh failed", "event_type", e.EventType, "reservation", e.ReservationNumber, "error", err)
		}
	}
	if n.mirror == nil {
		return
	}
	// Mirror calls use the outbound SMS budget.
	ctx, cancel := context.WithTimeout(context.Background(), httpc.SMSTimeout)
	defer cancel()
	if err := n.mirror.Sync(ctx, e); err != nil {
		n.logger.Warn("calendar mirror failed", "event_type", e.EventType, "reservation", e.ReservationNumber, "error", err)
	}
}

// Wait blocks until queued deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
