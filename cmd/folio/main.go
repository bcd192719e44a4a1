package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/app"
	"github.com/ternarybob/folio/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles   configPaths // Multiple -config flags supported
	maxConcurrent = flag.Int("max-concurrent", 0, "Concurrent extraction cap (overrides config)")
	logLevel      = flag.String("log-level", "", "Log level (overrides config)")
	showVersion   = flag.Bool("version", false, "Print version information")
	showVersionV  = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: folio [flags] [command] [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  serve              Run the extraction service and maintenance jobs (default)\n")
		fmt.Fprintf(os.Stderr, "  extract <files...> Register and extract files, then print a summary\n")
		fmt.Fprintf(os.Stderr, "  sweep              Run the stuck-attempt sweep once\n")
		fmt.Fprintf(os.Stderr, "  cleanup            Delete finished attempts past the retention age\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
}

func main() {
	defer common.RecoverWithCrashFile()
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Folio version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("folio.toml"); err == nil {
			configFiles = append(configFiles, "folio.toml")
		}
	}

	// Startup sequence: config (defaults -> files -> env) -> CLI overrides -> logger -> banner
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *maxConcurrent, *logLevel)

	logger := common.SetupLogger(config)
	common.InstallCrashHandler(config.Logging.Dir)
	common.PrintBanner(config, logger)

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		serve(ctx, logger)
	case "extract":
		if err := runExtract(ctx, application, args, os.Stdout); err != nil {
			logger.Error().Err(err).Msg("Extraction failed")
			application.Close()
			os.Exit(1)
		}
	case "sweep":
		if err := application.SchedulerService.TriggerJob(app.JobStuckSweep); err != nil {
			logger.Error().Err(err).Msg("Failed to trigger stuck sweep")
		}
	case "cleanup":
		if err := application.SchedulerService.TriggerJob(app.JobRetention); err != nil {
			logger.Error().Err(err).Msg("Failed to trigger retention job")
		}
	default:
		flag.Usage()
		application.Close()
		os.Exit(2)
	}
}

// serve blocks until an interrupt or termination signal arrives
func serve(ctx context.Context, logger arbor.ILogger) {
	logger.Info().Msg("Folio running - Press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received, shutting down")
}
