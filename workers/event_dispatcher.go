package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"arcade-ranking/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ranking_events_total",
	Help: "Analytics events by delivery outcome.",
}, []string{"outcome"})

// EventDispatcher is a bounded, drop-when-full EventSink. Events are
// POSTed to the analytics endpoint, or logged when none is configured.
type EventDispatcher struct {
	endpoint string
	token    string
	client   *http.Client
	queue    chan services.Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      *zap.Logger
}

func NewEventDispatcher(endpoint, token string, queueSize int, client *http.Client, log *zap.Logger) *EventDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &EventDispatcher{
		endpoint: endpoint,
		token:    token,
		client:   client,
		queue:    make(chan services.Event, queueSize),
		done:     make(chan struct{}),
		log:      log.Named("events"),
	}
}

// Emit enqueues e without blocking. Events are dropped when the queue is
// full or the dispatcher has stopped.
func (d *EventDispatcher) Emit(_ context.Context, e services.Event) {
	select {
	case <-d.done:
		eventsTotal.WithLabelValues("dropped").Inc()
		return
	default:
	}
	select {
	case d.queue <- e:
	default:
		eventsTotal.WithLabelValues("dropped").Inc()
		d.log.Warn("event queue full, dropping", zap.String("event", e.Name))
	}
}

func (d *EventDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop delivers what is already queued and returns.
func (d *EventDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *EventDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		case <-ctx.Done():
			d.drain(context.Background())
			return
		case <-d.done:
			d.drain(ctx)
			return
		}
	}
}

func (d *EventDispatcher) drain(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, e services.Event) {
	if d.endpoint == "" {
		eventsTotal.WithLabelValues("logged").Inc()
		d.log.Info("event", zap.String("event", e.Name), zap.String("player_id", e.PlayerID), zap.Any("props", e.Props))
		return
	}
	if err := d.post(ctx, e); err != nil {
		eventsTotal.WithLabelValues("failed").Inc()
		d.log.Warn("event delivery failed", zap.String("event", e.Name), zap.Error(err))
		return
	}
	eventsTotal.WithLabelValues("delivered").Inc()
}

func (d *EventDispatcher) post(ctx context.Context, e services.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("X-Service-Token", d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("analytics returned %d", resp.StatusCode)
	}
	return nil
}
