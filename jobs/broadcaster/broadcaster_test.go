package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixtrade/domain/market"
	"ixtrade/infra/metrics"
)

type recorder struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]market.Event
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Publish(_ context.Context, events []market.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]market.Event(nil), events...))
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func ev(seq uint64) market.Event {
	return market.Event{Kind: market.EventOrder, Pair: "BTC/USDT", Seq: seq}
}

func TestBroadcaster_BatchesToEveryPublisher(t *testing.T) {
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry())

	b := New(Config{BatchSize: 4, FlushInterval: 5 * time.Millisecond}, nil, m, bad, ok)
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	for i := uint64(1); i <= 10; i++ {
		b.Notify(ev(i))
	}
	require.Eventually(t, func() bool { return ok.count() == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, 10, bad.count())

	cancel()
	<-b.Done()

	ok.mu.Lock()
	var seqs []uint64
	for _, batch := range ok.batches {
		assert.LessOrEqual(t, len(batch), 4)
		for _, e := range batch {
			seqs = append(seqs, e.Seq)
		}
	}
	ok.mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok", "ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("bad", "error")))
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := New(Config{QueueSize: 2}, nil, m)

	// not started: nothing drains the queue
	for i := uint64(0); i < 5; i++ {
		b.Notify(ev(i))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDropped))
}

func TestBroadcaster_FlushesOnStop(t *testing.T) {
	r := &recorder{name: "r"}
	b := New(Config{BatchSize: 100, FlushInterval: time.Hour}, nil, nil, r)
	for i := uint64(0); i < 3; i++ {
		b.Notify(ev(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	cancel()
	<-b.Done()
	assert.Equal(t, 3, r.count())
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }
func (panicky) Publish(context.Context, []market.Event) error {
	panic("boom")
}

func TestBroadcaster_SurvivesPanickingPublisher(t *testing.T) {
	r := &recorder{name: "r"}
	b := New(Config{BatchSize: 1}, nil, nil, panicky{}, r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	b.Notify(ev(1))
	b.Notify(ev(2))
	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, time.Millisecond)
}
