package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scrai/internal/llm"
	"scrai/internal/memory"
	plog "scrai/internal/persistence/log"
	"scrai/internal/scenario"
	"scrai/internal/schema"
	"scrai/internal/sim/action"
	"scrai/internal/sim/actor"
	"scrai/internal/sim/bus"
	"scrai/internal/sim/engine"
	"scrai/internal/sim/world"
	"scrai/internal/transport/observer"
)

type runOptions struct {
	defPath   string
	maxRounds uint64
	observe   bool
	provider  string
	addr      string
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation from a definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.defPath, "definition", "d", "simulation.yaml", "path of the simulation definition")
	cmd.Flags().Uint64Var(&opts.maxRounds, "rounds", 0, "override max rounds (0 keeps the definition's value)")
	cmd.Flags().BoolVar(&opts.observe, "observe", false, "serve the observer endpoint even if the definition disables it")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "override the oracle provider (openrouter, lmstudio, mock)")
	return cmd
}

func runSimulation(ctx context.Context, opts runOptions) error {
	logger := log.New(os.Stdout, "[scrai] ", log.LstdFlags|log.Lmicroseconds)

	def, err := scenario.LoadDefinition(opts.defPath)
	if err != nil {
		return err
	}
	if opts.maxRounds > 0 {
		def.Rules.MaxRounds = opts.maxRounds
	}
	if opts.provider != "" {
		def.Oracle.Provider = opts.provider
	}
	if opts.addr != "" {
		def.Observe.Addr = opts.addr
	}

	scPath := def.Scenario
	if !filepath.IsAbs(scPath) {
		scPath = filepath.Join(filepath.Dir(opts.defPath), scPath)
	}
	sc, err := scenario.LoadFile(scPath)
	if err != nil {
		return err
	}

	store := world.NewStore()
	if err := sc.Seed(store); err != nil {
		return err
	}
	logger.Printf("scenario %q loaded: %d locations, %d actors", sc.Name, len(sc.Locations), len(sc.Actors))

	b := bus.New(log.New(os.Stdout, "[bus] ", log.LstdFlags|log.Lmicroseconds))
	defer b.Close()

	rec, err := openRecorder(def)
	if err != nil {
		return err
	}
	defer rec.Close()

	client, err := llm.New(def.Oracle)
	if err != nil {
		return err
	}

	registry := action.NewRegistry()
	if err := action.RegisterDefaults(registry); err != nil {
		return err
	}
	manager := action.NewManager(registry, store, b, log.New(os.Stdout, "[action] ", log.LstdFlags|log.Lmicroseconds))
	cycle := actor.New(client, registry.Kinds(),
		actor.WithRecorder(rec),
		actor.WithBaseConfig(def.Oracle),
		actor.WithLogger(log.New(os.Stdout, "[actor] ", log.LstdFlags|log.Lmicroseconds)),
	)

	runDir := filepath.Join(def.DataDir, def.Name)
	roundLog := plog.NewRoundLogger(runDir)
	defer roundLog.Close()
	eventLog := plog.NewEventLogger(runDir)
	defer eventLog.Close()
	b.Subscribe("*", func(e schema.Event) {
		if err := eventLog.WriteEvent(e); err != nil {
			logger.Printf("event journal write failed: %v", err)
		}
	})
	b.Subscribe(schema.EventActionResolved, func(e schema.Event) {
		kind, _ := e.Data.GetString("kind")
		result, _ := e.Data.GetString("result")
		msg, _ := e.Data.GetString("message")
		who := "?"
		if e.Source != nil {
			if rec, err := store.Get(*e.Source); err == nil {
				who = rec.Base().Name
			}
		}
		logger.Printf("round=%d %s %s [%s] %s", e.Round, who, kind, result, msg)
	})

	eng := engine.New(engine.Config{
		SimulationID:        def.Name,
		MaxInFlight:         def.Rules.MaxInFlight,
		DecideTimeout:       def.Rules.DecideTimeout,
		RoundInterval:       def.Rules.RoundInterval,
		MaxRounds:           def.Rules.MaxRounds,
		SnapshotEveryRounds: def.Rules.SnapshotEveryRounds,
		SnapshotDir:         filepath.Join(runDir, "snapshots"),
	}, store, b, manager, cycle,
		engine.WithRoundLogger(roundLog),
		engine.WithLogger(log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)),
	)
	for _, ev := range sc.Events {
		eng.ScheduleEvent(ev.Round, ev.Event)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var httpSrv *http.Server
	if def.Observe.Enabled || opts.observe {
		obs := observer.NewServer(def.Name, eng, b, store, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		httpSrv = &http.Server{Addr: def.Observe.Addr, Handler: obs.Routes()}
		go func() {
			logger.Printf("observer listening on %s", def.Observe.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer server: %v", err)
			}
		}()
	}

	logger.Printf("starting %q (max_rounds=%d)", def.Name, def.Rules.MaxRounds)
	runErr := eng.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Printf("interrupted at round %d", eng.Round())
		runErr = nil
	}

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	logger.Printf("finished after %d rounds, digest=%s", eng.Round(), store.Digest())
	return runErr
}

func openRecorder(def scenario.Definition) (memory.Recorder, error) {
	switch def.Memory.Driver {
	case "sqlite":
		path := def.Memory.Path
		if path == "" {
			path = filepath.Join(def.DataDir, def.Name, "memory.db")
		}
		rec, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
		return rec, nil
	default:
		return memory.NewInMemory(), nil
	}
}
