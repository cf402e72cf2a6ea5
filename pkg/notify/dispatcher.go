package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// UserNamer resolves display names.
type UserNamer interface {
	UserName(ctx context.Context, key string) (string, bool)
}

// Config configures a Dispatcher.
type Config struct {
	// QueueSize is the number of events buffered for delivery.
	// Default: 1024
	QueueSize int

	// SendTimeout bounds delivery of one message to one sink.
	// Default: 10s
	SendTimeout time.Duration

	// Namer resolves usernames for message texts. Optional.
	Namer UserNamer

	// Filter restricts which callers reach filtered sinks. Without a filter
	// filtered sinks receive nothing.
	Filter *RecipientFilter

	// Registerer receives the delivery metrics. Optional.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

type route struct {
	sink     Sink
	filtered bool
}

// Dispatcher is an asynchronous ratelimit.Notifier. Notify never blocks:
// events are queued and a single worker renders and delivers them in order.
// When the queue is full the event is dropped and counted.
type Dispatcher struct {
	cfg    Config
	routes []route
	logger *slog.Logger

	mu     sync.RWMutex
	queue  chan ratelimit.Event
	closed bool
	done   chan struct{}

	delivered *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewDispatcher creates a dispatcher. Call Start to begin delivery.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Dispatcher{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "notify.dispatcher"),
		queue:  make(chan ratelimit.Event, cfg.QueueSize),
		done:   make(chan struct{}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packlimit",
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and result.",
		}, []string{"sink", "result"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "packlimit",
			Name:      "notifications_dropped_total",
			Help:      "Events dropped because the delivery queue was full.",
		}),
	}
}

// AddSink registers a sink. Filtered sinks only receive events for callers
// accepted by the recipient filter. Sinks must be added before Start.
func (d *Dispatcher) AddSink(s Sink, filtered bool) {
	d.routes = append(d.routes, route{sink: s, filtered: filtered})
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	go d.run()
}

// Notify queues e for delivery.
func (d *Dispatcher) Notify(e ratelimit.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Inc()
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Inc()
		d.logger.Warn("notification queue full, dropping event", "kind", string(e.Kind), "key", e.Key)
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e ratelimit.Event) {
	ctx := context.Background()

	user := e.Key
	if d.cfg.Namer != nil {
		if name, ok := d.cfg.Namer.UserName(ctx, e.Key); ok {
			user = name
		}
	}
	msg, err := Render(e, user)
	if err != nil {
		d.logger.Error("cannot render notification", "kind", string(e.Kind), "error", err)
		return
	}

	allowed, checked := false, false
	for _, r := range d.routes {
		if r.filtered {
			if !checked {
				allowed, checked = d.allow(ctx, e.Key), true
			}
			if !allowed {
				continue
			}
		}
		d.send(ctx, r.sink, msg)
	}
}

func (d *Dispatcher) allow(ctx context.Context, key string) bool {
	if d.cfg.Filter == nil {
		return false
	}
	ok, err := d.cfg.Filter.Allow(ctx, key)
	if err != nil {
		d.logger.Warn("cannot resolve notification recipients", "key", key, "error", err)
		return false
	}
	return ok
}

func (d *Dispatcher) send(ctx context.Context, s Sink, m Message) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := s.Send(ctx, m); err != nil {
		d.delivered.WithLabelValues(s.Name(), "error").Inc()
		d.logger.Warn("notification delivery failed",
			"sink", s.Name(),
			"event_id", m.Event.ID,
			"error", err,
		)
		return
	}
	d.delivered.WithLabelValues(s.Name(), "ok").Inc()
}
