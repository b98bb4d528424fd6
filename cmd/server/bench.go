package main

import (
	"github.com/spf13/cobra"

	"ixtrade/config"
	"ixtrade/harness"
	"ixtrade/infra/logging"
	"ixtrade/service"
)

func newBenchCmd(load func() (*config.Config, error)) *cobra.Command {
	var hc harness.Config

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive an in-process engine with generated orders and print latency percentiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Development)
			defer func() { _ = log.Sync() }()

			engine, err := service.NewEngine(service.EngineConfig{
				DefaultScale: cfg.Engine.DefaultScale,
				Scales:       cfg.Engine.Pairs,
				MaxDepth:     cfg.Engine.MaxDepth,
			}, service.WithLogger(log))
			if err != nil {
				return err
			}

			rep, err := harness.Run(cmd.Context(), engine, hc, log)
			if err != nil {
				return err
			}
			cmd.Println(rep.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&hc.Count, "count", "n", 100000, "orders to submit")
	f.StringVarP(&hc.Pair, "pair", "p", "BTC/USDT", "trading pair")
	f.IntVar(&hc.Concurrency, "concurrency", 1, "submitting goroutines")
	f.Float64Var(&hc.Rate, "rate", 0, "orders per second, 0 for unpaced")
	f.BoolVar(&hc.Fast, "fast", false, "use the high-throughput path")
	f.Int64Var(&hc.Seed, "seed", 1, "order generator seed")
	return cmd
}
