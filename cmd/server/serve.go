package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ixtrade/api/grpcserver"
	"ixtrade/config"
	"ixtrade/infra/chain"
	"ixtrade/infra/jobstore"
	"ixtrade/infra/kafka"
	"ixtrade/infra/logging"
	"ixtrade/infra/metrics"
	"ixtrade/infra/redisstore"
	"ixtrade/jobs/broadcaster"
	"ixtrade/service"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC exchange service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Log.Level, cfg.Log.Development)
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---------------- Settlement ----------------

	store, err := openStore(cfg.Settlement)
	if err != nil {
		return err
	}
	defer store.Close()

	settler, closeSettler, err := openSettler(cfg.Settlement.Gateway)
	if err != nil {
		return err
	}
	defer closeSettler()

	orch, err := service.NewOrchestrator(orchestratorConfig(cfg.Settlement), store, settler,
		service.WithOrchestratorLogger(log),
		service.WithOrchestratorMetrics(m),
	).Start(ctx)
	if err != nil {
		return err
	}

	// ---------------- Market data ----------------

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTradeSink(orch),
	}
	var bc *broadcaster.Broadcaster
	if cfg.Broadcast.Enabled {
		publishers, closePublishers, err := openPublishers(ctx, cfg.Broadcast)
		if err != nil {
			return err
		}
		defer closePublishers()

		bc = broadcaster.New(broadcaster.Config{
			QueueSize:     cfg.Broadcast.QueueSize,
			BatchSize:     cfg.Broadcast.BatchSize,
			FlushInterval: cfg.Broadcast.FlushInterval,
		}, log, m, publishers...)
		opts = append(opts, service.WithNotifier(bc))
	}

	// ---------------- Engine ----------------

	engine, err := service.NewEngine(service.EngineConfig{
		DefaultScale:       cfg.Engine.DefaultScale,
		Scales:             cfg.Engine.Pairs,
		MaxDepth:           cfg.Engine.MaxDepth,
		JournalDir:         cfg.Engine.JournalDir,
		JournalSegmentSize: cfg.Engine.JournalSegmentSize,
		JournalSync:        cfg.Engine.JournalSync,
	}, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	st, err := engine.ReplayJournal(ctx, cfg.Engine.SnapshotDir)
	if err != nil {
		return errors.Wrap(err, "recover books")
	}
	log.Info("books recovered",
		zap.Int("pairs", st.Pairs),
		zap.Int("records", st.Records),
		zap.Int("trades", st.Trades),
	)

	// ---------------- Background jobs ----------------

	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	if bc != nil {
		bc.Start(jobsCtx)
	}
	if cfg.Engine.SnapshotDir != "" && cfg.Engine.SnapshotInterval > 0 {
		engine.StartSnapshotJob(jobsCtx, cfg.Engine.SnapshotDir, cfg.Engine.SnapshotInterval)
	}

	// ---------------- Servers ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(engine, orch, log))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Info("ixtrade running",
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("metrics", cfg.Metrics.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)

		if cfg.Engine.SnapshotDir != "" {
			if err := engine.SnapshotAll(cfg.Engine.SnapshotDir); err != nil {
				log.Warn("final snapshot failed", zap.Error(err))
			}
		}
		cancelJobs()
		if bc != nil {
			<-bc.Done()
		}
		return orch.Stop(shutdownCtx)
	})
	return g.Wait()
}

func orchestratorConfig(c config.SettlementConfig) service.OrchestratorConfig {
	return service.OrchestratorConfig{
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		MaxAttempts:    c.MaxAttempts,
		AttemptTimeout: c.AttemptTimeout,
		SweepInterval:  c.SweepInterval,
		Retry: service.RetryPolicy{
			Kind:       c.Backoff.Kind,
			Initial:    c.Backoff.Initial,
			Max:        c.Backoff.Max,
			Multiplier: c.Backoff.Multiplier,
		},
	}
}

func openStore(c config.SettlementConfig) (jobstore.Store, error) {
	if c.StoreDir == "" {
		return jobstore.NewMemoryStore(), nil
	}
	return jobstore.OpenPebble(c.StoreDir, jobstore.PebbleOptions{})
}

func openSettler(c config.GatewayConfig) (chain.Settler, func(), error) {
	if c.Kind != "kafka" {
		return chain.DryRun{}, func() {}, nil
	}
	k, err := chain.NewKafkaSubmitter(c.Brokers, c.Topic)
	if err != nil {
		return nil, nil, err
	}
	return k, func() { _ = k.Close() }, nil
}

func openPublishers(ctx context.Context, c config.BroadcastConfig) ([]broadcaster.Publisher, func(), error) {
	var (
		pubs    []broadcaster.Publisher
		closers []func() error
	)
	closeAll := func() {
		for _, fn := range closers {
			_ = fn()
		}
	}

	if c.Kafka.Enabled {
		p := kafka.NewProducer(c.Kafka.Brokers, c.Kafka.TopicPrefix)
		pubs = append(pubs, p)
		closers = append(closers, p.Close)
	}
	if c.Redis.Enabled {
		client, err := redisstore.Dial(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		m := redisstore.New(client, c.Redis.Prefix)
		pubs = append(pubs, m)
		closers = append(closers, m.Close)
	}
	return pubs, closeAll, nil
}
