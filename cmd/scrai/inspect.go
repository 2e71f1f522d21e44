package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scrai/internal/persistence/snapshot"
	"scrai/internal/sim/world"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <snapshot-file>",
		Short: "Print the contents of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
	return cmd
}

func runInspect(path string) error {
	snap, err := snapshot.Read(path)
	if err != nil {
		return err
	}

	h := snap.Header
	fmt.Fprintf(os.Stdout, "simulation: %s\nround: %d\ndigest: %s\nentities: %d\n",
		h.SimulationID, h.Round, h.Digest, len(snap.Entities))

	store := world.NewStore()
	if err := snapshot.Restore(snap, store); err != nil {
		return fmt.Errorf("snapshot does not restore cleanly: %w", err)
	}

	for _, rec := range store.All() {
		base := rec.Base()
		if a, ok := world.AsActor(rec); ok {
			loc := "unplaced"
			if l, err := store.LocationOf(a.ID); err == nil {
				loc = l.Name
			}
			fmt.Fprintf(os.Stdout, "  actor    %s  %s  (at %s)\n", base.ID, base.Name, loc)
			continue
		}
		if l, ok := world.AsLocation(rec); ok {
			fmt.Fprintf(os.Stdout, "  location %s  %s  (%d contained, %d exits)\n", base.ID, base.Name, len(l.Contained), len(l.Connections))
			continue
		}
		fmt.Fprintf(os.Stdout, "  entity   %s  %s\n", base.ID, base.Name)
	}
	return nil
}
