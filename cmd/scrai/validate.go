package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scrai/internal/scenario"
	"scrai/internal/sim/world"
)

func validateCmd() *cobra.Command {
	var defPath string
	cmd := &cobra.Command{
		Use:   "validate [scenario.json]",
		Short: "Check a definition and its scenario without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return validateScenarioFile(args[0])
			}
			return runValidate(defPath)
		},
	}
	cmd.Flags().StringVarP(&defPath, "definition", "d", "simulation.yaml", "path of the simulation definition")
	return cmd
}

func validateScenarioFile(path string) error {
	sc, err := scenario.LoadFile(path)
	if err != nil {
		return err
	}
	store := world.NewStore()
	if err := sc.Seed(store); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "scenario %q ok: %d locations, %d actors, %d scheduled events\n",
		sc.Name, len(sc.Locations), len(sc.Actors), len(sc.Events))
	return nil
}

func runValidate(defPath string) error {
	def, err := scenario.LoadDefinition(defPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "definition %q ok\n", def.Name)

	scPath := def.Scenario
	if !filepath.IsAbs(scPath) {
		scPath = filepath.Join(filepath.Dir(defPath), scPath)
	}
	sc, err := scenario.LoadFile(scPath)
	if err != nil {
		return err
	}

	store := world.NewStore()
	if err := sc.Seed(store); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "scenario %q ok: %d locations, %d actors, %d scheduled events\n",
		sc.Name, len(sc.Locations), len(sc.Actors), len(sc.Events))
	for _, obj := range sc.Objectives {
		fmt.Fprintf(os.Stdout, "  objective: %s\n", obj)
	}
	return nil
}
