package scanner

import (
	"context"
	"encoding/json"
	"math"

	"github.com/spf13/cobra"

	"github.com/zephyr-analytics/zephscan/pkg/db/backend"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
	"github.com/zephyr-analytics/zephscan/pkg/reporter"
	"github.com/zephyr-analytics/zephscan/pkg/utils"
)

// flags holds the command line overrides; only flags the user set are applied.
type flags struct {
	configFile  string
	backend     string
	dataDir     string
	nodes       []string
	startHeight uint64
	endHeight   uint64
	resumeMode  string
	skipPolicy  string
	logLevel    string
	clickhouse  bool
}

func (f *flags) apply(cmd *cobra.Command, cfg *Config) {
	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Store.Backend = f.backend
	}
	if changed("data-dir") {
		cfg.Store.DataDir = f.dataDir
	}
	if changed("nodes") {
		cfg.Node.URLs = f.nodes
	}
	if changed("start-height") {
		cfg.Scan.StartHeight = f.startHeight
	}
	if changed("end-height") {
		cfg.Scan.EndHeight = f.endHeight
	}
	if changed("resume-mode") {
		cfg.Scan.ResumeMode = f.resumeMode
	}
	if changed("skip-policy") {
		cfg.Scan.SkipPolicy = f.skipPolicy
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("clickhouse") {
		cfg.Store.ClickHouseEnabled = f.clickhouse
	}
}

// ResolveConfig layers defaults, the YAML file, the environment and the flags of cmd.
func (f *flags) ResolveConfig(cmd *cobra.Command) (Config, error) {
	path := f.configFile
	if path == "" {
		path = utils.Env("CONFIG_FILE", "")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	f.apply(cmd, &cfg)
	return cfg, cfg.Validate()
}

// NewRootCommand builds the scanner CLI.
func NewRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "scanner",
		Short: "Reconstructs the Zephyr reserve ledger from node RPC data",
		Long: "scanner fetches pricing records and transactions from a Zephyr node, classifies\n" +
			"conversions and rewards, and folds them into per-block reserve statistics.\n" +
			"Every stage resumes from its persisted progress.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
	pf.StringVar(&f.backend, "backend", backend.CSV, "store backend: csv, redis or postgres")
	pf.StringVar(&f.dataDir, "data-dir", "./csvs", "directory of the csv backend")
	pf.StringSliceVar(&f.nodes, "nodes", nil, "node RPC urls")
	pf.Uint64Var(&f.startHeight, "start-height", 0, "first height of a fresh scan")
	pf.Uint64Var(&f.endHeight, "end-height", 0, "last height to scan, 0 follows the chain tip")
	pf.StringVar(&f.resumeMode, "resume-mode", "resume", "resume or fresh")
	pf.StringVar(&f.skipPolicy, "skip-policy", "gap", "gap or carry_forward")
	pf.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.BoolVar(&f.clickhouse, "clickhouse", false, "mirror committed rows into ClickHouse")

	root.AddCommand(
		stageCmd(f, "pricing", "Fetch pricing records up to the chain tip", func(ctx context.Context, a *App) (any, error) {
			return a.Workflow.ScanPricing(ctx)
		}),
		stageCmd(f, "txs", "Classify conversions and block rewards", func(ctx context.Context, a *App) (any, error) {
			return a.Workflow.ScanTransactions(ctx)
		}),
		stageCmd(f, "reserve", "Fold conversions into reserve statistics", func(ctx context.Context, a *App) (any, error) {
			return a.Workflow.BuildReserveStats(ctx)
		}),
		stageCmd(f, "run", "Run the pricing, transaction and reserve stages in order", func(ctx context.Context, a *App) (any, error) {
			results, err := a.Workflow.Run(ctx)
			if results == nil {
				results = []types.StageResult{}
			}
			return results, err
		}),
		stageCmd(f, "reconcile", "Compare the ledger with the node's reserve info", func(ctx context.Context, a *App) (any, error) {
			return a.Workflow.Reconcile(ctx)
		}),
		interpolateCmd(f),
		statsCmd(f),
		aggregateCmd(f),
		daemonCmd(f),
	)
	return root
}

type action func(ctx context.Context, a *App) (any, error)

// withApp resolves the configuration, initializes the App, runs fn and closes the App.
func withApp(cmd *cobra.Command, f *flags, fn func(ctx context.Context, a *App) error) error {
	cfg, err := f.ResolveConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := Initialize(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stageCmd(f *flags, use, short string, run action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *App) error {
				out, err := run(ctx, a)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

// rangeFlags adds --from and --to; an unset --to means no upper bound.
func rangeFlags(cmd *cobra.Command, from, to *uint64) {
	cmd.Flags().Uint64Var(from, "from", 0, "first height")
	cmd.Flags().Uint64Var(to, "to", 0, "last height, 0 for no upper bound")
}

func upper(to uint64) uint64 {
	if to == 0 {
		return math.MaxUint64
	}
	return to
}

func interpolateCmd(f *flags) *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "interpolate",
		Short: "Print the pricing series with oracle outages bridged, as JSON",
		Long: "interpolate reads the persisted pricing records and linearly fills the moving\n" +
			"averages across outage runs. The persisted series is not modified.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *App) error {
				res, err := a.Workflow.Interpolate(ctx, from, upper(to))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	rangeFlags(cmd, &from, &to)
	return cmd
}

func statsCmd(f *flags) *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise persisted conversions and block rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *App) error {
				rc := &reporter.Context{Logger: a.Logger, Store: a.Store}
				s, err := rc.ComputeTxStats(ctx, from, upper(to))
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			})
		},
	}
	rangeFlags(cmd, &from, &to)
	return cmd
}

func aggregateCmd(f *flags) *cobra.Command {
	var from, to uint64
	var scale string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Print hourly or daily OHLC windows of the reserve statistics, as JSON",
		Long: "aggregate buckets the persisted reserve statistics by block timestamp. The newest\n" +
			"window is marked pending since later blocks may still fall into it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := reporter.ParseScale(scale)
			if err != nil {
				return err
			}
			return withApp(cmd, f, func(ctx context.Context, a *App) error {
				rc := &reporter.Context{Logger: a.Logger, Store: a.Store}
				ws, err := rc.ComputeWindows(ctx, sc, from, upper(to))
				if err != nil {
					return err
				}
				return printJSON(cmd, ws)
			})
		},
	}
	rangeFlags(cmd, &from, &to)
	cmd.Flags().StringVar(&scale, "scale", string(reporter.ScaleHour), "hour or day")
	return cmd
}

func daemonCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Catch up on a cron schedule and serve /metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *App) error {
				return a.Start(ctx)
			})
		},
	}
}
