// Package cli is the command-line entry point shared by the simulation
// binaries. Each binary picks a built-in scenario preset; everything else
// comes from the models directory argument and the environment.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/interop-sim/internal/config"
	"github.com/signalsfoundry/interop-sim/internal/emulator"
	"github.com/signalsfoundry/interop-sim/internal/logging"
	"github.com/signalsfoundry/interop-sim/internal/observability"
	"github.com/signalsfoundry/interop-sim/internal/orchestrator"
	"github.com/signalsfoundry/interop-sim/internal/token"
	"github.com/signalsfoundry/interop-sim/internal/topology"
	"github.com/signalsfoundry/interop-sim/model"
	"github.com/signalsfoundry/interop-sim/timectrl"
	"github.com/spf13/cobra"
)

// newLauncher builds the model launcher; tests swap it for a fake.
var newLauncher = func(cfg config.Config, stdout, stderr io.Writer) emulator.Launcher {
	return emulator.ExecLauncher{ModelsDir: cfg.ModelsDir, Stdout: stdout, Stderr: stderr}
}

// errSetupFailed marks a run whose failure was already reported to the
// operator by the orchestrator.
var errSetupFailed = errors.New("simulation setup failed")

// NewRootCommand returns the command for a binary running preset.
func NewRootCommand(preset string) *cobra.Command {
	return &cobra.Command{
		Use:   preset + "-sim <models-dir>",
		Short: fmt.Sprintf("Run the %s interop scenario", preset),
		Long: fmt.Sprintf(`Launches one model process per node implementation found under the models
directory, builds the %q scenario on top of them and runs payment activity
until the operator presses enter or sends an interrupt.

Set SIM_SCENARIO_FILE to run a YAML scenario instead of the built-in one.`, preset),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Please specify a models directory")
				return nil
			}
			return run(cmd.Context(), cmd, preset, args[0])
		},
	}
}

// Execute runs the binary for preset and returns the process exit code.
func Execute(preset string) int {
	cmd := NewRootCommand(preset)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errSetupFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func run(ctx context.Context, cmd *cobra.Command, preset, modelsDir string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "BLAST starting up...")

	cfg, err := config.Load(modelsDir)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)

	desc, err := resolveDescriptor(preset, cfg.ScenarioFile)
	if err != nil {
		return err
	}
	topo, err := topology.Generate(desc)
	if err != nil {
		return fmt.Errorf("generate %s topology: %w", desc.Name, err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, runTracing(cfg, topo), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if srv := observability.Serve(cfg.MetricsAddr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tok := token.New()
	release := token.HandleInterrupt(tok, log)
	defer release()

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	emu := emulator.New(emulator.Config{
		RuntimeDir:   cfg.RuntimeDir,
		BaseRPCPort:  cfg.BaseRPCPort,
		Probe:        cfg.ProbeModels,
		ProbeTimeout: cfg.ProbeTimeout,
		Tick:         cfg.Tick,
		Mode:         mode,
		Seed:         uint64(cfg.Seed),
	}, newLauncher(cfg, cmd.ErrOrStderr(), cmd.ErrOrStderr()),
		emulator.WithLogger(log),
		emulator.WithMetrics(collector),
	)

	orch := orchestrator.New(emu, topo, tok,
		orchestrator.WithLogger(log),
		orchestrator.WithCollector(collector),
		orchestrator.WithPauser(NewStdinPauser(cmd.InOrStdin(), out)),
		orchestrator.WithOutput(out),
	)

	res, err := orch.Run(ctx)
	stats := emu.Stats()
	log.Info(ctx, "run finished",
		logging.String("scenario", topo.Name),
		logging.Any("payments_sent", stats.PaymentsSent),
		logging.Any("payments_failed", stats.PaymentsFailed),
		logging.Any("events_fired", stats.EventsFired),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errSetupFailed, err)
	}
	if res.Shutdown != nil && !res.Shutdown.Clean() {
		log.Warn(ctx, "teardown was not clean",
			logging.Int("task_failures", len(res.Shutdown.TaskFailures)),
			logging.Err(res.Shutdown.NetworkErr),
		)
	}
	return nil
}

// runTracing stamps the generated run onto the tracing config.
func runTracing(cfg config.Config, topo *model.Topology) observability.TracingConfig {
	tc := cfg.Tracing
	tc.Scenario = topo.Name
	for _, n := range topo.NodeCounts() {
		tc.Nodes += n
	}
	tc.Seed = cfg.Seed
	return tc
}

// resolveDescriptor prefers a scenario file over the built-in preset.
func resolveDescriptor(preset, scenarioFile string) (topology.Descriptor, error) {
	if scenarioFile != "" {
		d, err := topology.LoadDescriptorFile(scenarioFile)
		if err != nil {
			return topology.Descriptor{}, fmt.Errorf("load scenario %s: %w", scenarioFile, err)
		}
		return d, nil
	}
	return topology.Preset(preset)
}
