package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agroflow-systems/agroflow/internal/config"
	"github.com/agroflow-systems/agroflow/internal/orchestrator"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		mode      string
		coordsRaw string
		cropsRaw  string
		startDate string
		endDate   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL pipelines",
		Long: `Runs the agro-climatic ETL pipelines against the configured warehouse.
Mode selects which pipeline runs: weather, soil, crop, or full (all three).
Every run is recorded in the audit ledger; reruns of the same window only
apply records not already loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(mode, coordsRaw, cropsRaw, startDate, endDate)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "full", "pipeline to run: weather|soil|crop|full")
	cmd.Flags().StringVar(&coordsRaw, "coords", "", `target coordinates as "lat,lon;lat,lon" (default: four reference cities)`)
	cmd.Flags().StringVar(&cropsRaw, "crops", "", "comma-separated crop names (default: wheat,maize,rice,soybean,potato)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "weather window start, YYYY-MM-DD (default: 365 days ago)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "weather window end, YYYY-MM-DD (default: today)")
	return cmd
}

func runPipelines(mode, coordsRaw, cropsRaw, startDate, endDate string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	coords, err := parseCoordinates(coordsRaw)
	if err != nil {
		return err
	}
	crops := parseCrops(cropsRaw)
	if startDate == "" || endDate == "" {
		startDate, endDate = defaultWindow(time.Now())
	}
	if err := validateWindow(startDate, endDate); err != nil {
		return err
	}

	log := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	o := buildOrchestrator(cfg, store, log)
	if err := o.Startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	switch mode {
	case "weather":
		res, err := o.RunWeather(ctx, coords, startDate, endDate)
		printResult("weather", res)
		return err
	case "soil":
		res, err := o.RunSoil(ctx, coords)
		printResult("soil", res)
		return err
	case "crop":
		res, err := o.RunCrops(ctx, crops)
		printResult("crop", res)
		return err
	case "full":
		full, err := o.RunFull(ctx, coords, crops, startDate, endDate)
		printResult("soil", full.Soil)
		printResult("crop", full.Crops)
		printResult("weather", full.Weather)
		return err
	default:
		return fmt.Errorf("unknown mode %q: want weather|soil|crop|full", mode)
	}
}

func printResult(pipeline string, res orchestrator.Result) {
	if res.BatchID == "" {
		return
	}
	statusStr := color.GreenString(string(res.Status))
	if res.Status == types.BatchFailed {
		statusStr = color.RedString(string(res.Status))
	}
	fmt.Fprintf(os.Stdout, "%-8s %s  %s  processed=%d inserted=%d updated=%d skipped=%d failed=%d\n",
		pipeline, res.BatchID, statusStr,
		res.Counters.Processed, res.Counters.Inserted, res.Counters.Updated,
		res.Counters.Skipped, res.Counters.Failed)
}
