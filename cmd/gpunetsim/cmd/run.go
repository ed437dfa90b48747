package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gpunet/gpunet/x/compute/simulation"
)

// runOutput is the JSON form of a finished run.
type runOutput struct {
	RunID    string            `json:"run_id"`
	Seed     int64             `json:"seed"`
	Duration string            `json:"duration"`
	Error    string            `json:"error,omitempty"`
	Report   simulation.Report `json:"report"`
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and print its report",
		Example: `  gpunetsim run --blocks 500 --honest 20 --cheaters 3
  GPUNET_SEED=7 gpunetsim run --output json
  gpunetsim run --config sim.yaml --gpus "NVIDIA GeForce RTX 4090:24,NVIDIA A100-SXM4-80GB:80"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := simulationFromViper(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			logger = logger.With("run_id", runID)
			logger.Info("starting simulation", "seed", cfg.Seed, "blocks", cfg.Blocks, "workers", cfg.Workers())

			stopMetrics, err := startMetricsServer(v.GetString(flagMetricsAddr), logger)
			if err != nil {
				return err
			}
			defer stopMetrics()

			start := time.Now()
			net, err := simulation.NewNetwork(cfg, logger)
			if err != nil {
				return err
			}
			report, runErr := net.Run(cmd.Context())

			out := runOutput{
				RunID:    runID,
				Seed:     cfg.Seed,
				Duration: time.Since(start).Round(time.Millisecond).String(),
				Report:   report,
			}
			if runErr != nil {
				out.Error = runErr.Error()
			}
			if err := writeRun(cmd.OutOrStdout(), v.GetString(flagOutput), out); err != nil {
				return err
			}
			return runErr
		},
	}
	addSimulationFlags(cmd.Flags())
	addParamsFlags(cmd.Flags())
	cmd.Flags().String(flagMetricsAddr, "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func writeRun(w io.Writer, format string, out runOutput) error {
	if format == outputJSON {
		bz, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bz))
		return err
	}

	rep := out.Report
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", out.RunID)
	fmt.Fprintf(tw, "seed\t%d\n", out.Seed)
	fmt.Fprintf(tw, "height\t%d (%d blocks in %s)\n", rep.Height, rep.Blocks, out.Duration)
	if out.Error != "" {
		fmt.Fprintf(tw, "stopped\t%s\n", out.Error)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "tasks created\t%d\n", rep.TasksCreated)
	fmt.Fprintf(tw, "tasks succeeded\t%d\n", rep.TasksSucceeded)
	fmt.Fprintf(tw, "tasks aborted\t%d\n", rep.TasksAbortedTotal())
	for _, reason := range sortedKeys(rep.TasksAborted) {
		fmt.Fprintf(tw, "  %s\t%d\n", reason, rep.TasksAborted[reason])
	}
	fmt.Fprintf(tw, "slashes\t%d\n", rep.Slashes)
	fmt.Fprintf(tw, "kick-outs\t%d\n", rep.KickOuts)
	for _, op := range sortedKeys(rep.Rejected) {
		fmt.Fprintf(tw, "rejected %s\t%d\n", op, rep.Rejected[op])
	}
	fmt.Fprintln(tw)

	s := rep.Stats
	fmt.Fprintf(tw, "nodes\t%d total, %d available, %d busy\n", s.TotalNodes, s.AvailableNodes, s.BusyNodes)
	fmt.Fprintf(tw, "tasks\t%d total, %d running, %d queued\n", s.TotalTasks, s.RunningTasks, s.QueuedTasks)
	fmt.Fprintf(tw, "escrow\t%s\n", rep.Escrow)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "BEHAVIOR\tWORKERS\tACTIVE\tMEAN QOS\tSUCCESSES\tFAILURES\tSLASHES\tBALANCE")
	for _, b := range rep.Behaviors {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%d\t%d\t%d\t%s\n",
			b.Behavior, b.Workers, b.Active, b.MeanScore, b.Successes, b.Failures, b.Slashes, b.Balance)
	}
	return tw.Flush()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
