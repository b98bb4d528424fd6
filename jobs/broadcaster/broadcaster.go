// Package broadcaster fans engine events out to market-data publishers.
// Delivery is best effort: a full queue drops events instead of slowing
// the matching path.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ixtrade/domain/market"
	"ixtrade/infra/metrics"
)

// Publisher delivers one batch of events. infra/kafka.Producer and
// infra/redisstore.Mirror implement it.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []market.Event) error
}

type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// PublishTimeout bounds one Publish call of one publisher.
	PublishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 8192
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

type Broadcaster struct {
	cfg        Config
	publishers []Publisher
	log        *zap.Logger
	metrics    *metrics.Metrics

	events chan market.Event
	done   chan struct{}
	once   sync.Once
}

// New builds a broadcaster. Nil logger and metrics fall back to no-ops.
func New(cfg Config, log *zap.Logger, m *metrics.Metrics, publishers ...Publisher) *Broadcaster {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Broadcaster{
		cfg:        cfg,
		publishers: publishers,
		log:        log.Named("broadcaster"),
		metrics:    m,
		events:     make(chan market.Event, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Notify queues ev without blocking.
func (b *Broadcaster) Notify(ev market.Event) {
	select {
	case b.events <- ev:
	default:
		b.metrics.EventsDropped.Inc()
	}
}

// Start runs the flush loop until ctx ends. What is queued at that point
// is flushed once more before Done closes.
func (b *Broadcaster) Start(ctx context.Context) {
	b.once.Do(func() {
		b.log.Info("broadcaster started", zap.Int("publishers", len(b.publishers)))
		go b.run(ctx)
	})
}

// Done closes when the flush loop has exited.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]market.Event, 0, b.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			batch = b.drain(batch)
			b.flush(context.WithoutCancel(ctx), batch)
			b.log.Info("broadcaster stopped")
			return

		case ev := <-b.events:
			batch = append(batch, ev)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (b *Broadcaster) drain(batch []market.Event) []market.Event {
	for {
		select {
		case ev := <-b.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// flush hands the batch to every publisher. A failing publisher is logged
// and skipped; it never holds back the others.
func (b *Broadcaster) flush(ctx context.Context, batch []market.Event) {
	if len(batch) == 0 {
		return
	}
	for _, p := range b.publishers {
		pctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
		err := safePublish(pctx, p, batch)
		cancel()

		outcome := "ok"
		if err != nil {
			outcome = "error"
			b.log.Warn("publish failed",
				zap.String("publisher", p.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
		b.metrics.EventsPublished.WithLabelValues(p.Name(), outcome).Add(float64(len(batch)))
	}
}

func safePublish(ctx context.Context, p Publisher, batch []market.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("publisher %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Publish(ctx, batch)
}
