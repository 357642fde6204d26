// Package main provides the entry point for the silogrid service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridflow/silogrid/internal/app"
	"github.com/gridflow/silogrid/internal/application"
	"github.com/gridflow/silogrid/internal/config"
	"github.com/gridflow/silogrid/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

const dateLayout = "2006-01-02"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "silogrid",
	Short: "silogrid - windowed time series over the SILO gridded climate archive",
	Long: `silogrid reads spatial windows out of SILO's cloud-optimized GeoTIFF
archive and assembles them into per-variable time series.

Windowed reads fetch only the raster tiles a region touches, so a point
series over a century of daily rasters moves kilobytes per date, not the
full continental grids. Rasters can also be mirrored or clipped into a
local cache for repeated analysis.

Features:
  - Point and polygon window reads straight off the archive
  - Full-raster mirroring and clipped persistence
  - Daily and monthly variables with preset groups
  - HTTP API for series queries
  - Prometheus metrics`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("silogrid %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP series API",
	RunE:  runServer,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Mirror or clip a range of rasters into a directory",
	RunE:  runFetch,
}

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Assemble a point or region time series and print it as JSON",
	RunE:  runSeries,
}

var variablesCmd = &cobra.Command{
	Use:   "variables",
	Short: "List known archive variables and presets",
	RunE:  runVariables,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("archive-type", "http", "archive transport (http, s3)")
	rootCmd.PersistentFlags().String("cache-dir", "", "local raster cache directory")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("archive.type", rootCmd.PersistentFlags().Lookup("archive-type"))
	_ = viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	// Fetch flags
	fetchCmd.Flags().StringSlice("var", nil, "variable names or presets (repeatable)")
	fetchCmd.Flags().String("start", "", "start date (YYYY-MM-DD)")
	fetchCmd.Flags().String("end", "", "end date (YYYY-MM-DD)")
	fetchCmd.Flags().String("out", "", "output directory")
	fetchCmd.Flags().String("bbox", "", "clip region as west,south,east,north")
	fetchCmd.Flags().Bool("force", false, "rewrite rasters that already exist")
	fetchCmd.Flags().Bool("summary", false, "print cache inventory counts after the run")
	_ = fetchCmd.MarkFlagRequired("var")
	_ = fetchCmd.MarkFlagRequired("start")
	_ = fetchCmd.MarkFlagRequired("end")
	_ = fetchCmd.MarkFlagRequired("out")

	// Series flags
	seriesCmd.Flags().StringSlice("var", nil, "variable names or presets (repeatable)")
	seriesCmd.Flags().String("start", "", "start date (YYYY-MM-DD)")
	seriesCmd.Flags().String("end", "", "end date (YYYY-MM-DD)")
	seriesCmd.Flags().Float64("lon", 0, "longitude")
	seriesCmd.Flags().Float64("lat", 0, "latitude")
	seriesCmd.Flags().String("bbox", "", "region as west,south,east,north instead of a point")
	seriesCmd.Flags().String("mode", "", "assembly mode (stream, cached)")
	seriesCmd.Flags().Int("overview", 0, "overview level, 0 reads full resolution")
	seriesCmd.Flags().Bool("fill", false, "keep unpublished dates as null slices")
	seriesCmd.Flags().Bool("force", false, "rewrite cached rasters in cached mode")
	_ = seriesCmd.MarkFlagRequired("var")
	_ = seriesCmd.MarkFlagRequired("start")
	_ = seriesCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(serveCmd, fetchCmd, seriesCmd, variablesCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting silogrid",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"archive_type", cfg.Archive.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	variables, _ := cmd.Flags().GetStringSlice("var")
	outDir, _ := cmd.Flags().GetString("out")
	bboxFlag, _ := cmd.Flags().GetString("bbox")
	force, _ := cmd.Flags().GetBool("force")

	start, end, err := parseDateRange(cmd)
	if err != nil {
		return err
	}

	req := application.MaterializeRequest{
		Variables: variables,
		Start:     start,
		End:       end,
		OutputDir: outDir,
		Force:     force,
	}
	if bboxFlag != "" {
		bbox, err := parseBBox(bboxFlag)
		if err != nil {
			return err
		}
		req.BBox = bbox
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Inventory.Close() }()

	report, err := a.Materializer.Materialize(cmd.Context(), req)
	if err != nil {
		return err
	}

	for name, counts := range report.Variables {
		fmt.Printf("%-16s written=%d skipped=%d missing=%d failed=%d excluded=%d\n",
			name, counts.Written, counts.Skipped, counts.Missing, counts.Failed, counts.Excluded)
	}
	total := report.Counts()
	fmt.Printf("%d dates in %s (written=%d skipped=%d missing=%d failed=%d excluded=%d)\n",
		total.Total(), report.Duration.Round(time.Millisecond),
		total.Written, total.Skipped, total.Missing, total.Failed, total.Excluded)

	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		counts, err := a.Inventory.CountByVariable(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading cache inventory: %w", err)
		}
		fmt.Println("\nCache inventory:")
		for name, n := range counts {
			fmt.Printf("  %-16s %d rasters\n", name, n)
		}
	}

	if total.Failed > 0 {
		return fmt.Errorf("%d tasks failed", total.Failed)
	}
	return nil
}

func runSeries(cmd *cobra.Command, _ []string) error {
	variables, _ := cmd.Flags().GetStringSlice("var")
	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	bboxFlag, _ := cmd.Flags().GetString("bbox")
	mode, _ := cmd.Flags().GetString("mode")
	overview, _ := cmd.Flags().GetInt("overview")
	fill, _ := cmd.Flags().GetBool("fill")
	force, _ := cmd.Flags().GetBool("force")

	start, end, err := parseDateRange(cmd)
	if err != nil {
		return err
	}

	var geom domain.Geometry
	switch {
	case bboxFlag != "":
		if cmd.Flags().Changed("lon") || cmd.Flags().Changed("lat") {
			return fmt.Errorf("--bbox and --lon/--lat are mutually exclusive")
		}
		bbox, err := parseBBox(bboxFlag)
		if err != nil {
			return err
		}
		geom = domain.NewBox(bbox.West, bbox.South, bbox.East, bbox.North)
	case cmd.Flags().Changed("lon") && cmd.Flags().Changed("lat"):
		geom = domain.NewPoint(lon, lat)
	default:
		return fmt.Errorf("either --lon and --lat or --bbox is required")
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Inventory.Close() }()

	if mode == "" {
		mode = a.Config.Series.Mode
	}

	result, err := a.Assembler.Assemble(cmd.Context(), variables, application.SeriesOptions{
		Start:       start,
		End:         end,
		Geometry:    geom,
		Mode:        application.AssembleMode(mode),
		Overview:    overview,
		FillMissing: fill,
		Force:       force,
	})
	if err != nil {
		return err
	}

	out := make(map[string]interface{}, len(result))
	for name, series := range result {
		dates := make([]string, len(series.Dates))
		for i, d := range series.Dates {
			dates[i] = d.Format(dateLayout)
		}
		values := make([]*float64, len(series.Values))
		for i := range series.Values {
			if !series.Mask[i] {
				v := series.Values[i]
				values[i] = &v
			}
		}
		out[name] = map[string]interface{}{
			"dates":  dates,
			"shape":  [3]int{series.Steps(), series.Rows, series.Cols},
			"values": values,
		}
	}

	doc := map[string]interface{}{"series": out}
	if bboxFlag != "" {
		doc["bbox"] = bboxFlag
	} else {
		doc["point"] = map[string]float64{"lon": lon, "lat": lat}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func runVariables(_ *cobra.Command, _ []string) error {
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Inventory.Close() }()

	fmt.Printf("%-18s %-6s %-8s %-6s %s\n", "NAME", "CODE", "STEP", "FROM", "DESCRIPTION")
	for _, v := range a.Registry.All() {
		fmt.Printf("%-18s %-6s %-8s %-6d %s (%s)\n",
			v.Name, v.APICode, v.Granularity, v.FirstYear, v.DisplayName, v.Units)
	}

	presets := a.Registry.Presets()
	if len(presets) > 0 {
		fmt.Printf("\nPresets: %s\n", strings.Join(presets, ", "))
	}
	return nil
}

// setupApp builds the wired application for one-shot CLI commands.
func setupApp() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

func parseDateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")

	start, err := time.Parse(dateLayout, startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q, expected YYYY-MM-DD", startFlag)
	}
	end, err := time.Parse(dateLayout, endFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q, expected YYYY-MM-DD", endFlag)
	}
	return start, end, nil
}

func parseBBox(s string) (*application.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid --bbox %q, expected west,south,east,north", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --bbox coordinate %q", p)
		}
		vals[i] = v
	}
	return &application.BBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, nil
}

func setupLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
