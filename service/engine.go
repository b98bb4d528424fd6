package service

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ixtrade/domain/market"
	"ixtrade/domain/orderbook"
	"ixtrade/domain/settlement"
	"ixtrade/infra/memory"
	"ixtrade/infra/metrics"
	"ixtrade/infra/sequence"
	"ixtrade/infra/wal/entry"
	"ixtrade/snapshot"
)

const (
	DefaultDepth        = 20
	DefaultTradeLimit   = 50
	defaultMaxDepth     = 500
	defaultEventDepth   = 20
	defaultSegmentBytes = 64 << 20
)

// TradeSink takes executed trades once the pair lock is released.
type TradeSink interface {
	EnqueueTrade(ctx context.Context, t market.Trade) (settlement.JobView, error)
}

type EngineConfig struct {
	DefaultScale market.Scale
	// Scales overrides DefaultScale per pair. Keys are normalized.
	Scales   map[string]market.Scale
	MaxDepth int
	// EventDepth is the number of levels carried by order-book events.
	EventDepth int

	// Epoch is mixed into trade ids of this process lifetime. Empty draws a
	// random one, which is what a restarted process wants.
	Epoch string

	// JournalDir enables the per-pair order journal when non-empty.
	JournalDir         string
	JournalSegmentSize int64
	JournalSync        bool
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithTradeSink(s TradeSink) Option      { return func(e *Engine) { e.sink = s } }
func WithNotifier(n market.Notifier) Option { return func(e *Engine) { e.notify = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine owns every pair's book. Each pair is guarded by its own lock;
// the registry lock only covers lookup and creation.
type Engine struct {
	cfg     EngineConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	sink    TradeSink
	notify  market.Notifier
	now     func() time.Time
	pool    *memory.Pool[orderbook.Order, *orderbook.Order]

	mu    sync.RWMutex
	pairs map[string]*pairBook

	// order id -> *pairBook for resting orders
	index sync.Map
}

type resting struct {
	order  *orderbook.Order
	pooled bool
}

type pairBook struct {
	mu       sync.RWMutex
	pair     string
	scale    market.Scale
	book     *orderbook.OrderBook
	orders   map[string]resting
	seq      *sequence.Sequencer
	tradeSeq *sequence.Sequencer
	epoch    string
	stats    *market.StatsWindow
	history  *market.TradeHistory
	journal  *journal

	fills []orderbook.Fill
}

func NewEngine(cfg EngineConfig, opts ...Option) (*Engine, error) {
	scales := make(map[string]market.Scale, len(cfg.Scales))
	for pair, s := range cfg.Scales {
		p, err := market.NormalizePair(pair)
		if err != nil {
			return nil, errors.Wrap(err, "engine scales")
		}
		scales[p] = s
	}
	cfg.Scales = scales
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.EventDepth <= 0 {
		cfg.EventDepth = defaultEventDepth
	}
	if cfg.Epoch == "" {
		cfg.Epoch = uuid.NewString()
	}
	if cfg.JournalSegmentSize <= 0 {
		cfg.JournalSegmentSize = defaultSegmentBytes
	}

	e := &Engine{
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
		pool:  memory.NewPool[orderbook.Order](),
		pairs: make(map[string]*pairBook),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	e.log = e.log.Named("engine")
	return e, nil
}

func (e *Engine) scaleFor(pair string) market.Scale {
	if s, ok := e.cfg.Scales[pair]; ok {
		return s
	}
	return e.cfg.DefaultScale
}

// lookup never creates a pair.
func (e *Engine) lookup(pair string) *pairBook {
	e.mu.RLock()
	pb := e.pairs[pair]
	e.mu.RUnlock()
	return pb
}

// pairFor returns the pair's book, creating it (and its journal) on first use.
func (e *Engine) pairFor(pair string) (*pairBook, error) {
	if pb := e.lookup(pair); pb != nil {
		return pb, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if pb := e.pairs[pair]; pb != nil {
		return pb, nil
	}

	pb := e.newPairBook(pair)
	if err := e.openJournal(pb); err != nil {
		return nil, err
	}
	e.pairs[pair] = pb
	e.log.Info("pair book created", zap.String("pair", pair))
	return pb, nil
}

func (e *Engine) newPairBook(pair string) *pairBook {
	return &pairBook{
		pair:     pair,
		scale:    e.scaleFor(pair),
		book:     orderbook.NewOrderBook(),
		orders:   make(map[string]resting),
		seq:      sequence.New(0),
		tradeSeq: sequence.New(0),
		epoch:    e.cfg.Epoch,
		stats:    market.NewStatsWindow(),
		history:  market.NewTradeHistory(market.MaxRecentTrades),
	}
}

func (e *Engine) journalDir(pair string) string {
	return filepath.Join(e.cfg.JournalDir, snapshot.FileName(pair))
}

func (e *Engine) openJournal(pb *pairBook) error {
	if e.cfg.JournalDir == "" {
		return nil
	}
	w, err := entry.Open(entry.Config{
		Dir:            e.journalDir(pb.pair),
		SegmentSize:    e.cfg.JournalSegmentSize,
		SyncEveryWrite: e.cfg.JournalSync,
	})
	if err != nil {
		return internal(errors.Wrapf(err, "open journal for %s", pb.pair))
	}
	pb.journal = &journal{wal: w}
	return nil
}

// Pairs lists the pairs that have a book, sorted.
func (e *Engine) Pairs() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.pairs))
	for p := range e.pairs {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close flushes and closes every journal.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs error
	for _, pb := range e.pairs {
		pb.mu.Lock()
		if pb.journal != nil {
			errs = errors.CombineErrors(errs, pb.journal.wal.Close())
			pb.journal = nil
		}
		pb.mu.Unlock()
	}
	return errs
}

// haltedErr reports a halted book with the internal class.
func (e *Engine) haltedErr(pb *pairBook) error {
	if err := pb.book.Halted(); err != nil {
		return internal(errors.Wrapf(err, "pair %s", pb.pair))
	}
	return nil
}

// onHalt records the fault that just stopped pb's book.
func (e *Engine) onHalt(pb *pairBook, err error) error {
	e.metrics.HaltsTotal.WithLabelValues(pb.pair).Inc()
	e.log.Error("order book halted", zap.String("pair", pb.pair), zap.Error(err))
	return internal(errors.Wrapf(err, "pair %s", pb.pair))
}

func (e *Engine) reject(err error) error {
	e.metrics.RejectsTotal.WithLabelValues(errorClass(err)).Inc()
	return err
}
