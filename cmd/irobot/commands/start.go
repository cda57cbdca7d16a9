package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/internal/httpapi"
	"github.com/wtsi-hgi/irobot/internal/httpapi/auth"
	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/internal/precache/alloc"
	"github.com/wtsi-hgi/irobot/internal/precache/checksum"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
	"github.com/wtsi-hgi/irobot/internal/precache/store"
	"github.com/wtsi-hgi/irobot/internal/remote"
	"github.com/wtsi-hgi/irobot/internal/telemetry"
	"github.com/wtsi-hgi/irobot/pkg/config"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
)

// expirySweepInterval is how often the background sweep checks for entries
// that have exceeded precache.expiry, independent of the expiry value
// itself.
const expirySweepInterval = time.Hour

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the irobot gateway",
	Long: `Start the irobot precache gateway with the specified configuration.

By default, the gateway runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Examples:
  # Start in background (default)
  irobot start

  # Start in foreground
  irobot start --foreground

  # Start with a custom configuration file
  irobot start --config /etc/irobot/config.yaml

  # Start with environment variable overrides
  IROBOT_LOGGING_LEVEL=debug irobot start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/irobot/irobot.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/irobot/irobot.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "irobot",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "irobot",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	logger.Info("irobot starting", "version", Version, "config", getConfigSource(GetConfigFile()))

	mgr, st, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer mgr.Close()
	st.StartVacuumTimer(12 * time.Hour)
	mgr.StartExpirySweep(expirySweepInterval)

	authChain, err := buildAuthChain(cfg)
	if err != nil {
		return err
	}

	var httpTimeout time.Duration
	if !cfg.HTTPD.Timeout.Unlimited {
		httpTimeout = cfg.HTTPD.Timeout.Duration
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Manager:        mgr,
		AuthChain:      authChain,
		RequestTimeout: httpTimeout,
		ConfigSnapshot: func() any { return cfg },
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPD.BindAddress, cfg.HTTPD.Listen),
		Handler: router,
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("irobot is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			return err
		}
		cancel()
		logger.Info("irobot stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Critical("server error", logger.Err(err))
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}

// buildManager opens the tracking store and constructs a precache manager
// from cfg, shared by `start` and the `precache` subcommands so both
// operate on the same on-disk layout.
func buildManager(ctx context.Context, cfg *config.Config) (*manager.Manager, *store.Store, error) {
	indexPath := cfg.Precache.Index
	if !filepath.IsAbs(indexPath) {
		indexPath = filepath.Join(cfg.Precache.Location, indexPath)
	}
	if err := os.MkdirAll(cfg.Precache.Location, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create precache location: %w", err)
	}
	st, err := store.Open(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tracking store: %w", err)
	}

	al := alloc.New(cfg.Precache.Location)
	sum := checksum.New(cfg.Precache.ChunkSize.Int64(), 0)

	var remoteTimeout time.Duration
	if !cfg.HTTPD.Timeout.Unlimited {
		remoteTimeout = cfg.HTTPD.Timeout.Duration
	}
	rmt := remote.NewBoundedStore(remote.NewICommandsClient(remoteTimeout), cfg.Irods.MaxConnections)

	mgr := manager.New(manager.Config{
		Budget: cfg.Precache.Size.Bytes(),
		Expiry: cfg.Precache.Expiry.Duration,
	}, st, al, sum, rmt)
	if err := mgr.Open(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to open precache manager: %w", err)
	}
	return mgr, st, nil
}

// buildAuthChain wires the configured httpd.authentication handlers in
// order, per spec.md §6: the chain tries each in turn and challenges with
// all of them on failure.
func buildAuthChain(cfg *config.Config) (*auth.Chain, error) {
	handlers := make([]auth.Handler, 0, len(cfg.HTTPD.Authentication))
	for _, name := range cfg.HTTPD.Authentication {
		switch name {
		case "basic_auth":
			handlers = append(handlers, auth.NewBasicHandler("irobot", cfg.BasicAuth.URL, cfg.BasicAuth.Cache.Duration, nil))
		case "arvados_auth":
			handlers = append(handlers, auth.NewArvadosHandler(cfg.ArvadosAuth.APIHost, cfg.ArvadosAuth.APIVersion, cfg.ArvadosAuth.Cache.Duration, nil))
		default:
			return nil, fmt.Errorf("httpd.authentication names unknown handler %q", name)
		}
	}
	return auth.NewChain(handlers...), nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the gateway as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("irobot is already running (PID %d)", pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("irobot started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
