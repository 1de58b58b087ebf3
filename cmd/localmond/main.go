package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/timfallmk/node-local-monitor/internal/config"
	"github.com/timfallmk/node-local-monitor/internal/daemon"
	"github.com/timfallmk/node-local-monitor/internal/logging"
)

const (
	name = "localmond"
)

var (
	// These are set by the build system via -ldflags.
	version   = "dev"     // Set via -X main.version=...
	buildTime = "unknown" // Set via -X main.buildTime=...
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	envFile     = flag.String("env-file", ".env", "Optional file of LOCALMON_* overrides")
	showVersion = flag.Bool("version", false, "Show version information")
	showHelp    = flag.Bool("help", false, "Show help information")
	logLevel    = flag.String("log-level", "", "Set log level (debug, info, warn, error)")
	dataDir     = flag.String("data-dir", "", "Data directory to monitor")
	cacheDir    = flag.String("cache-dir", "", "Cache directory to monitor")
	listenAddr  = flag.String("listen", "", "API listen address (host:port)")
	jsonOutput  = flag.Bool("json", false, "Print probe and status output as JSON")
)

func main() {
	flag.Parse()

	switch {
	case *showHelp:
		showUsage(os.Stdout)
		return
	case *showVersion:
		fmt.Printf("%s version %s (built %s)\n", name, version, buildTime)
		return
	case flag.NArg() < 1:
		showUsage(os.Stderr)
		os.Exit(2)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, path, err := loadConfiguration()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyCommandLineOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	opts := []daemon.Option{daemon.WithLogger(logger)}
	if path != "" {
		opts = append(opts, daemon.WithConfigPath(path))
	}

	service, err := daemon.NewService(cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	err = runCommand(context.Background(), os.Stdout, flag.Arg(0), service, cfg, path)
	logger.Close()

	var usage usageError
	switch {
	case errors.As(err, &usage):
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		showUsage(os.Stderr)
		os.Exit(2)
	case err != nil:
		log.Fatal(err)
	}
}

// usageError reports a command name localmond does not know.
type usageError string

func (e usageError) Error() string {
	return "unknown command: " + string(e)
}

// serviceControl is the subset of *daemon.Service that manages the
// installed system service.
type serviceControl interface {
	Install(args ...string) (string, error)
	Remove() (string, error)
	StartService() (string, error)
	StopService() (string, error)
	Status() (string, error)
	Run(ctx context.Context) error
}

// runCommand executes one CLI command against service. Service manager
// commands print the manager's status line to w.
func runCommand(ctx context.Context, w io.Writer, command string, service serviceControl, cfg *config.Config, path string) error {
	control := map[string]func() (string, error){
		"install": func() (string, error) {
			args := []string{"run"}
			if path != "" {
				args = append([]string{"-config", path}, args...)
			}
			return service.Install(args...)
		},
		"remove":    service.Remove,
		"uninstall": service.Remove,
		"start":     service.StartService,
		"stop":      service.StopService,
	}

	if fn, ok := control[command]; ok {
		status, err := fn()
		if err != nil {
			return fmt.Errorf("%s service: %w", command, err)
		}
		_, err = fmt.Fprintln(w, status)
		return err
	}

	switch command {
	case "run":
		logging.Info("starting "+name, "version", version, "config", path, "paths", cfg.MonitoredPaths())
		if err := service.Run(ctx); err != nil {
			logging.Error("service exited", "error", err)
			return err
		}
		return nil
	case "status":
		status, err := service.Status()
		if err != nil {
			return fmt.Errorf("service status: %w", err)
		}
		return renderStatus(w, cfg, status, *jsonOutput)
	case "config":
		return showConfiguration(w, cfg)
	case "probe":
		ctx, cancel := context.WithTimeout(ctx, cfg.Monitor.RefreshTimeout+time.Second)
		defer cancel()
		if err := runProbe(ctx, w, cfg, *jsonOutput); err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		return nil
	}
	return usageError(command)
}

// loadConfiguration returns the configuration and the file it came from,
// which is empty when defaults are used.
func loadConfiguration() (*config.Config, string, error) {
	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		return cfg, *configPath, err
	}

	configFile, err := config.FindConfig()
	if err != nil {
		log.Printf("No configuration file found, using defaults")

		cfg := config.DefaultConfig()
		cfg.ApplyEnv()
		return cfg, "", nil //nolint:nilerr
	}

	cfg, err := config.LoadConfig(configFile)
	return cfg, configFile, err
}

func applyCommandLineOverrides(cfg *config.Config) {
	if *dataDir != "" {
		cfg.Node.DataDirectory = *dataDir
	}

	if *cacheDir != "" {
		cfg.Node.CacheDirectory = *cacheDir
	}

	if *listenAddr != "" {
		cfg.API.Listen = *listenAddr
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintf(w, `%[1]s - Node local resource monitor

USAGE:
    %[1]s [OPTIONS] <COMMAND>

COMMANDS:
    run                 Run the daemon in foreground mode
    install             Install the daemon as a system service
    remove, uninstall   Remove the daemon service
    start               Start the installed daemon service
    stop                Stop the running daemon service
    status              Show the daemon service status
    config              Show current configuration
    probe               Probe the monitored directories once and exit

OPTIONS:
`, name)

	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()

	fmt.Fprintf(w, `
EXAMPLES:
    %[1]s -config /etc/localmond.yaml run
    %[1]s -data-dir /srv/data -json probe
    %[1]s install && %[1]s start

Without -config the first of $XDG_CONFIG_HOME/localmond/config.yaml,
$HOME/.config/localmond/config.yaml, /etc/localmond/config.yaml and
./configs/config.yaml is used. LOCALMON_DATA_DIRECTORY,
LOCALMON_CACHE_DIRECTORY, LOCALMON_API_LISTEN and LOCALMON_LOG_LEVEL
override the file.
`, name)
}

// showConfiguration prints the effective configuration as a key/value
// table.
func showConfiguration(w io.Writer, cfg *config.Config) error {
	t := cfg.Thresholds
	rows := [][]string{
		{"node.data_directory", cfg.Node.DataDirectory},
		{"node.cache_directory", cfg.Node.CacheDirectory},
		{"monitor.refresh_interval", cfg.Monitor.RefreshInterval.String()},
		{"monitor.refresh_timeout", cfg.Monitor.RefreshTimeout.String()},
		{"monitor.max_staleness", cfg.Monitor.MaxStaleness.String()},
		{"thresholds.min_free_bytes", formatBytes(t.MinFreeBytes)},
		{"thresholds.free_percent", fmt.Sprintf("warn %.1f%% / critical %.1f%%", t.MinFreePercentWarning, t.MinFreePercentCritical)},
		{"api", fmt.Sprintf("%s (enabled=%t)", cfg.API.Listen, cfg.API.Enabled)},
		{"logging", fmt.Sprintf("%s %s", cfg.Logging.Level, cfg.Logging.Format)},
	}
	_, err := fmt.Fprintln(w, newTable([]string{"SETTING", "VALUE"}, rows))
	return err
}
