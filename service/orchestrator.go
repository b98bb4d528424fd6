package service

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ixtrade/domain/market"
	"ixtrade/domain/settlement"
	"ixtrade/infra/chain"
	"ixtrade/infra/jobstore"
	"ixtrade/infra/metrics"
)

const lockStripes = 64

type OrchestratorConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	SweepInterval  time.Duration
	Retry          RetryPolicy
}

func (c *OrchestratorConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = 200 * time.Millisecond
	}
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator settles trades asynchronously. A job is keyed by trade id,
// claimed by exactly one worker at a time, retried with backoff and
// dead-lettered once MaxAttempts is reached.
type Orchestrator struct {
	cfg     OrchestratorConfig
	store   jobstore.Store
	settler chain.Settler
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	stripes [lockStripes]sync.Mutex
	ready   chan string
	queued  sync.Map // id -> struct{}, ids sitting in ready
	pending sync.Map // id -> time.Time, next attempt of pending jobs
	timers  sync.Map // id -> *time.Timer
	busy    sync.Map // id -> struct{}, settlement calls that have not returned

	startOnce sync.Once
	startErr  error
	stopOnce  sync.Once
	running   atomic.Bool
	quit      chan struct{}
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	enqueued     atomic.Int64
	deduplicated atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	inFlight     atomic.Int64
	pendingCount atomic.Int64
	latency      *metrics.LatencyWindow
}

func NewOrchestrator(cfg OrchestratorConfig, store jobstore.Store, settler chain.Settler, opts ...OrchestratorOption) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		settler: settler,
		log:     zap.NewNop(),
		now:     time.Now,
		ready:   make(chan string, cfg.QueueSize),
		quit:    make(chan struct{}),
		latency: metrics.NewLatencyWindow(4096),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(prometheus.NewRegistry())
	}
	o.log = o.log.Named("settlement")
	return o
}

// Start recovers stored jobs and launches the workers. Only the first call
// does anything; later calls return the same instance and outcome. The
// workers outlive ctx and stop with Stop.
func (o *Orchestrator) Start(ctx context.Context) (*Orchestrator, error) {
	o.startOnce.Do(func() {
		o.runCtx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
		if err := o.recover(); err != nil {
			o.startErr = o.unavailable(errors.Wrap(err, "recover settlement jobs"))
			return
		}

		for i := 0; i < o.cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker()
		}
		o.wg.Add(1)
		go o.sweeper()

		o.running.Store(true)
		o.log.Info("settlement orchestrator started",
			zap.Int("workers", o.cfg.Workers),
			zap.Int64("pending", o.pendingCount.Load()),
		)
	})
	return o, o.startErr
}

// Stop stops taking work and waits for in-flight attempts until ctx ends;
// then remaining attempts are canceled and their jobs go back to pending.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var err error
	o.stopOnce.Do(func() {
		o.running.Store(false)
		close(o.quit)
		o.timers.Range(func(k, v any) bool {
			v.(*time.Timer).Stop()
			o.timers.Delete(k)
			return true
		})

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			if o.cancel != nil {
				o.cancel()
			}
			<-done
		}
		if o.cancel != nil {
			o.cancel()
		}
		o.log.Info("settlement orchestrator stopped")
	})
	return err
}

// EnqueueTrade records a settlement job for t and returns without waiting
// for it. A trade id that already has a pending, processing or completed
// job is returned as a duplicate. A failed job is archived and replaced by
// a new generation.
func (o *Orchestrator) EnqueueTrade(ctx context.Context, t market.Trade) (settlement.JobView, error) {
	if !o.running.Load() {
		return settlement.JobView{}, settlement.ErrUnavailable
	}
	if err := t.Validate(); err != nil {
		return settlement.JobView{}, err
	}
	if err := ctx.Err(); err != nil {
		return settlement.JobView{}, err
	}

	mu := o.stripe(t.ID)
	mu.Lock()

	generation := 1
	existing, err := o.store.Get(t.ID)
	switch {
	case err == nil && existing.State != settlement.Failed:
		mu.Unlock()
		o.deduplicated.Add(1)
		o.metrics.SettlementJobs.WithLabelValues("deduplicated").Inc()
		v := existing.View()
		v.Duplicate = true
		return v, nil

	case err == nil:
		if err := o.store.Archive(existing); err != nil {
			mu.Unlock()
			return settlement.JobView{}, o.unavailable(err)
		}
		generation = existing.Generation + 1

	case !errors.Is(err, settlement.ErrJobNotFound):
		mu.Unlock()
		return settlement.JobView{}, o.unavailable(err)
	}

	job := settlement.NewJob(t, generation, o.now())
	if err := o.store.Put(job); err != nil {
		mu.Unlock()
		return settlement.JobView{}, o.unavailable(err)
	}
	o.markPending(job.ID, job.NextAttemptAt)
	mu.Unlock()

	o.enqueued.Add(1)
	o.metrics.SettlementJobs.WithLabelValues("enqueued").Inc()
	if generation > 1 {
		o.log.Info("dead-lettered job re-enqueued", zap.String("job", job.ID), zap.Int("generation", generation))
	}
	o.schedule(job.ID)
	return job.View(), nil
}

// GetResult reads the job's current state without waiting on workers.
func (o *Orchestrator) GetResult(id string) (settlement.JobView, error) {
	job, err := o.store.Get(id)
	if errors.Is(err, settlement.ErrJobNotFound) {
		return settlement.JobView{}, err
	}
	if err != nil {
		return settlement.JobView{}, o.unavailable(err)
	}
	return job.View(), nil
}

// Archived lists dead-lettered generations of a job, oldest first.
func (o *Orchestrator) Archived(id string) ([]settlement.JobView, error) {
	jobs, err := o.store.Archived(id)
	if err != nil {
		return nil, o.unavailable(err)
	}
	out := make([]settlement.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View())
	}
	return out, nil
}

// GetMetrics reports counters of this process and latency of completed jobs.
func (o *Orchestrator) GetMetrics() settlement.Metrics {
	s := o.latency.Summary()
	return settlement.Metrics{
		Enqueued:     o.enqueued.Load(),
		Deduplicated: o.deduplicated.Load(),
		Completed:    o.completed.Load(),
		Failed:       o.failed.Load(),
		Retried:      o.retried.Load(),
		InFlight:     o.inFlight.Load(),
		Pending:      o.pendingCount.Load(),
		Latency: settlement.Latency{
			Count: s.Count,
			Mean:  s.Mean,
			P50:   s.P50,
			P95:   s.P95,
			P99:   s.P99,
		},
	}
}

// ---- scheduling ----

// schedule puts id on the ready queue once. A full queue leaves the job to
// the sweeper.
func (o *Orchestrator) schedule(id string) {
	if _, loaded := o.queued.LoadOrStore(id, struct{}{}); loaded {
		return
	}
	select {
	case o.ready <- id:
	default:
		o.queued.Delete(id)
	}
}

func (o *Orchestrator) scheduleAfter(id string, d time.Duration) {
	t := time.AfterFunc(d, func() {
		o.timers.Delete(id)
		if o.running.Load() {
			o.schedule(id)
		}
	})
	if prev, loaded := o.timers.Swap(id, t); loaded {
		prev.(*time.Timer).Stop()
	}
}

// markPending and unmarkPending run under the job's stripe lock.
func (o *Orchestrator) markPending(id string, next time.Time) {
	if _, loaded := o.pending.Swap(id, next); !loaded {
		o.pendingCount.Add(1)
	}
}

func (o *Orchestrator) unmarkPending(id string) {
	if _, loaded := o.pending.LoadAndDelete(id); loaded {
		o.pendingCount.Add(-1)
	}
}

func (o *Orchestrator) sweeper() {
	defer o.wg.Done()
	t := time.NewTicker(o.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-o.quit:
			return
		case <-t.C:
			now := o.now()
			o.pending.Range(func(k, v any) bool {
				if !now.Before(v.(time.Time)) {
					o.schedule(k.(string))
				}
				return true
			})
		}
	}
}

// recover loads pending jobs and returns interrupted attempts to pending.
func (o *Orchestrator) recover() error {
	now := o.now()
	var requeued int
	err := o.store.Scan(func(job *settlement.Job) error {
		switch job.State {
		case settlement.Processing:
			if err := job.Transition(settlement.Pending, now); err != nil {
				return err
			}
			job.NextAttemptAt = now
			job.LastError = "interrupted by restart"
			if err := o.store.Put(job); err != nil {
				return err
			}
			requeued++
			o.markPending(job.ID, now)
		case settlement.Pending:
			o.markPending(job.ID, job.NextAttemptAt)
		}
		return nil
	})
	if requeued > 0 {
		o.log.Warn("requeued interrupted settlement attempts", zap.Int("jobs", requeued))
	}
	return err
}

// ---- execution ----

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.quit:
			return
		case id := <-o.ready:
			o.queued.Delete(id)
			o.process(id)
		}
	}
}

func (o *Orchestrator) process(id string) {
	job, ok := o.claim(id)
	if !ok {
		return
	}

	start := time.Now()
	receipt, err := o.attempt(id, job.Trade)
	elapsed := time.Since(start)

	o.metrics.SettlementDuration.Observe(elapsed.Seconds())
	o.finish(job, receipt, err, elapsed)
}

// claim moves a due pending job to processing. Only one caller can win
// because the check and the write happen under the job's stripe lock.
func (o *Orchestrator) claim(id string) (*settlement.Job, bool) {
	mu := o.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := o.store.Get(id)
	if err != nil {
		if !errors.Is(err, settlement.ErrJobNotFound) {
			o.log.Error("load settlement job", zap.String("job", id), zap.Error(err))
		}
		return nil, false
	}
	now := o.now()
	if !job.Due(now) {
		return nil, false
	}
	// a timed-out call may still be running; the next attempt waits for it
	if _, running := o.busy.Load(id); running {
		return nil, false
	}
	if err := job.Transition(settlement.Processing, now); err != nil {
		return nil, false
	}
	job.Attempts++
	job.StartedAt = now
	if err := o.store.Put(job); err != nil {
		o.log.Error("claim settlement job", zap.String("job", id), zap.Error(err))
		return nil, false
	}

	o.unmarkPending(id)
	o.inFlight.Add(1)
	o.metrics.SettlementInFlight.Inc()
	return job, true
}

type attemptResult struct {
	receipt string
	err     error
}

// attempt runs the settlement call under the per-attempt timeout. A panic
// in the call is reported as an error. The job stays busy until the call
// returns, even after the timeout has been reported; a call that outlived
// its attempt reschedules the job when it finally returns.
func (o *Orchestrator) attempt(id string, t market.Trade) (string, error) {
	ctx, cancel := context.WithTimeout(o.runCtx, o.cfg.AttemptTimeout)
	defer cancel()

	var abandoned atomic.Bool
	o.busy.Store(id, struct{}{})
	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			o.busy.Delete(id)
			if abandoned.Load() && o.running.Load() {
				o.schedule(id)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult{err: errors.Newf("settlement panic: %v", r)}
			}
		}()
		receipt, err := o.settler.Settle(ctx, t)
		ch <- attemptResult{receipt: receipt, err: err}
	}()

	select {
	case r := <-ch:
		return r.receipt, r.err
	case <-ctx.Done():
		abandoned.Store(true)
		return "", errors.Wrap(ctx.Err(), "settlement attempt")
	}
}

func (o *Orchestrator) finish(claimed *settlement.Job, receipt string, attemptErr error, elapsed time.Duration) {
	mu := o.stripe(claimed.ID)
	mu.Lock()

	o.inFlight.Add(-1)
	o.metrics.SettlementInFlight.Dec()

	job, err := o.store.Get(claimed.ID)
	if err != nil || job.Generation != claimed.Generation {
		mu.Unlock()
		o.log.Error("settlement job changed while processing", zap.String("job", claimed.ID), zap.Error(err))
		return
	}

	now := o.now()
	var (
		next    settlement.State
		retryIn time.Duration
		event   string
	)
	switch {
	case attemptErr == nil:
		next, event = settlement.Completed, "completed"
	case o.runCtx.Err() != nil:
		// shutting down: the attempt did not really fail
		next = settlement.Pending
	case job.Attempts >= o.cfg.MaxAttempts:
		next, event = settlement.Failed, "failed"
	default:
		next, event = settlement.Pending, "retried"
		retryIn = o.cfg.Retry.Delay(job.Attempts)
	}
	if err := job.Transition(next, now); err != nil {
		mu.Unlock()
		o.log.Error("settlement outcome rejected",
			zap.String("job", job.ID),
			zap.String("state", string(next)),
			zap.Error(err),
		)
		return
	}

	job.Duration = elapsed
	job.LastError = ""
	if attemptErr != nil {
		job.LastError = attemptErr.Error()
	}
	switch next {
	case settlement.Completed:
		job.Result = receipt
	case settlement.Pending:
		job.NextAttemptAt = now.Add(retryIn)
		o.markPending(job.ID, job.NextAttemptAt)
	}

	if err := o.store.Put(job); err != nil {
		mu.Unlock()
		o.log.Error("store settlement outcome", zap.String("job", job.ID), zap.Error(err))
		return
	}
	mu.Unlock()

	switch event {
	case "completed":
		o.completed.Add(1)
		o.latency.Observe(elapsed)
	case "failed":
		o.failed.Add(1)
		o.log.Warn("settlement dead-lettered",
			zap.String("job", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.String("error", job.LastError),
		)
	case "retried":
		o.retried.Add(1)
		o.log.Debug("settlement retry scheduled",
			zap.String("job", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Duration("in", retryIn),
		)
		o.scheduleAfter(job.ID, retryIn)
	}
	if event != "" {
		o.metrics.SettlementJobs.WithLabelValues(event).Inc()
	}
}

func (o *Orchestrator) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &o.stripes[h.Sum32()%lockStripes]
}

// unavailable tags store failures with both the unavailable and the
// internal class.
func (o *Orchestrator) unavailable(err error) error {
	err = errors.Mark(errors.Wrap(err, "settlement store"), settlement.ErrUnavailable)
	return errors.Mark(err, market.ErrInternal)
}
