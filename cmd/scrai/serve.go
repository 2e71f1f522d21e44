package main

import (
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulation with the observer endpoint enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.observe = true
			return runSimulation(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.defPath, "definition", "d", "simulation.yaml", "path of the simulation definition")
	cmd.Flags().Uint64Var(&opts.maxRounds, "rounds", 0, "override max rounds (0 keeps the definition's value)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address for the observer endpoint (overrides the definition)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "override the oracle provider (openrouter, lmstudio, mock)")
	return cmd
}
