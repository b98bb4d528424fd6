package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ixtrade/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "server",
		Short:         "ixtrade matching engine and settlement orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}
	root.AddCommand(newServeCmd(load), newBenchCmd(load))
	return root
}
