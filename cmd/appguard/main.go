// Package main is the CLI entry point for appguard.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appguard",
	Short: "Application guard - interrupts blocked apps when they come to the front",
	Long: `appguard watches which application is in the foreground and, when it is one
you have blocked, interrupts it and sends you back to the desktop.

Blocks are per application, either for a number of minutes or permanently,
and can be paused without losing the block period.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start blocking (launches enforcer and guardian daemons)",
	Long: `Starts both the enforcer and guardian daemons.
The enforcer polls the foreground application and interrupts blocked ones.
The guardian relaunches the enforcer if it is killed, and vice versa.

This also installs a LaunchAgent to auto-start on login.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop blocking",
	Long:  `Stops both daemons and removes the LaunchAgent so they do not come back.`,
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the enforcement loop",
	Long:  `Asks the running enforcer to stop and start its poll loop (SIGHUP).`,
	RunE:  runRestart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check blocking status",
	Long:  `Shows whether the daemons are running, granted permissions, and what to do about missing ones.`,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning daemons
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	daemonRole string
	jsonOutput bool
)

func init() {
	daemonCmd.Flags().StringVar(&daemonRole, "role", "", "Daemon role (enforcer/guardian)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	addRuleCommands(rootCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	execMode := infra.DetectExecMode()
	fmt.Printf("Execution mode: %s\n", execMode.Mode)

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)

	entry, _ := registry.GetAll()
	if entry != nil && !entry.StopRequested {
		if pm.IsRunning(entry.EnforcerPID) && pm.IsRunning(entry.GuardianPID) {
			fmt.Println("appguard is already running")
			return nil
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath := execMode.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	// Clear a previous stop so the guardian relaunches again
	if err := registry.SetStopRequested(false); err != nil {
		fmt.Printf("Warning: Could not reset stop request: %v\n", err)
	}

	launchdManager := infra.NewLaunchdManager(execMode)
	if !launchdManager.IsInstalled() {
		if err := launchdManager.Install(binaryPath); err != nil {
			fmt.Printf("Warning: Could not install %s: %v\n", execMode.Mode, err)
			fmt.Println("         (appguard will still run, but won't auto-start)")
		} else {
			fmt.Println("Installed LaunchAgent for auto-start on login")
		}
	}

	if err := daemon.StartBothDaemons(); err != nil {
		return fmt.Errorf("failed to start daemons: %w", err)
	}

	// Wait a moment for daemons to register
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n=== appguard Started ===")
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Data: %s\n", cfg.DataDir)
	fmt.Println("\nDaemons are running in the background.")
	fmt.Println("Run 'appguard status' to check permissions.")
	fmt.Println("========================")
	return nil
}

// copyBinary copies the binary file to destination using atomic write pattern.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".appguard-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	// Unload first so launchd does not respawn the enforcer
	launchdManager := infra.NewLaunchdManager(infra.DetectExecMode())
	if launchdManager.IsInstalled() {
		if err := launchdManager.Uninstall(); err != nil {
			fmt.Printf("Warning: Could not remove LaunchAgent: %v\n", err)
		}
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	if err := daemon.StopDaemons(registry, pm, 5*time.Second, logger); err != nil {
		return fmt.Errorf("failed to stop daemons: %w", err)
	}

	fmt.Println("appguard stopped")
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	entry, err := registry.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}
	if entry == nil || !pm.IsRunning(entry.EnforcerPID) {
		return fmt.Errorf("appguard is not running; use 'appguard start'")
	}

	if err := pm.Signal(entry.EnforcerPID, int(syscall.SIGHUP)); err != nil {
		return fmt.Errorf("failed to signal enforcer: %w", err)
	}
	fmt.Println("Restart requested")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	statusFile := infra.NewStatusFile(cfg.DataDir)

	status, ok, err := statusFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if ok && !pm.IsRunning(status.PID) {
		// Left behind by a daemon that was killed
		status = domain.Status{State: domain.StateStopped}
	}

	if jsonOutput {
		return writeJSON(os.Stdout, status)
	}

	fmt.Println("\n=== appguard Status ===")
	switch {
	case !status.Running:
		fmt.Println("Status: NOT RUNNING")
	case status.Degraded:
		fmt.Println("Status: RUNNING (degraded)")
	default:
		fmt.Println("Status: RUNNING")
	}
	fmt.Printf("State: %s\n", orDefault(string(status.State), string(domain.StateStopped)))

	if status.Running {
		fmt.Printf("Foreground access: %s\n", yesNo(status.CapabilityGranted))
		fmt.Printf("Power exemption: %s\n", yesNo(status.PowerExemptionGranted))
		if !status.LastPollAt.IsZero() {
			fmt.Printf("Last poll: %s ago\n", time.Since(status.LastPollAt).Round(time.Second))
		}
		if status.LastTriggerTarget != "" {
			fmt.Printf("Last blocked: %s at %s\n", status.LastTriggerTarget, status.LastTriggerAt.Format(time.Kitchen))
		}
	}

	if entry, _ := registry.GetAll(); entry != nil {
		fmt.Printf("Enforcer: %s\n", aliveString(pm, entry.EnforcerPID))
		fmt.Printf("Guardian: %s\n", aliveString(pm, entry.GuardianPID))
	}

	if launchd := infra.NewLaunchdManager(infra.DetectExecMode()); launchd.IsInstalled() {
		fmt.Println("Auto-start: enabled")
	} else {
		fmt.Println("Auto-start: disabled")
	}

	for _, hint := range status.Remediation() {
		fmt.Printf("\n%s", hint)
	}
	fmt.Println("\n=======================")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonRole == "" {
		return fmt.Errorf("--role is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	role := domain.DaemonRole(daemonRole)
	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       role,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch role {
	case domain.RoleEnforcer:
		// The enforcer maps its own signals onto the lifecycle
		return runEnforcer(ctx, cfg, d, pm, registry, logger)

	case domain.RoleGuardian:
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("received shutdown signal")
			cancel()
		}()

		guardian := daemon.NewGuardian(
			daemon.GuardianConfig{
				EnforcerCheckInterval: cfg.PartnerCheckInterval,
				HeartbeatInterval:     cfg.HeartbeatInterval,
			},
			registry,
			d,
			logger,
		)
		return guardian.Run(ctx)

	default:
		return fmt.Errorf("unknown role: %s", role)
	}
}

func runEnforcer(
	ctx context.Context,
	cfg *config.Config,
	d domain.Daemon,
	pm domain.ProcessManager,
	registry domain.DaemonRegistry,
	logger *zap.Logger,
) error {
	store, closeStore, err := openRuleStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	runner := &infra.RealCommandRunner{}
	transitions := infra.NewTransitionLog(infra.NewAppleScriptReaderWithRunner(runner), cfg.PollInterval/2, logger)
	wake := infra.NewCaffeinateLock(logger)
	caps := infra.NewHostCapabilities(transitions, wake)

	monitor := usecase.NewForegroundMonitor(transitions, cfg.QueryWindow, cfg.SelfID, cfg.ExtraExcluded...)
	interstitial := usecase.NewInterstitial(
		infra.NewNotificationSurface(runner, logger),
		infra.NewFinderNavigator(runner),
		infra.NewAppTerminator(runner, pm, logger),
		cfg.Interstitial.Timeout,
		logger,
		m,
	)
	engine := usecase.NewEnforcementEngine(monitor, store, interstitial, caps, cfg.DebounceWindow, logger, m)

	manager := daemon.NewManager(
		daemon.LifecycleConfig{
			PollInterval:      cfg.PollInterval,
			WakeLease:         cfg.WakeLease,
			HeartbeatInterval: cfg.HeartbeatInterval,
		},
		engine,
		caps,
		wake,
		infra.NewStatusFile(cfg.DataDir),
		daemon.NewGuardianRelauncher(registry, logger),
		logger,
		m,
	)

	execMode := infra.DetectExecMode()
	execPath := execMode.BinaryPath
	if _, err := os.Stat(execPath); err != nil {
		execPath, _ = os.Executable()
	}

	enforcer := daemon.NewEnforcer(
		daemon.EnforcerConfig{
			HeartbeatInterval:    cfg.HeartbeatInterval,
			PartnerCheckInterval: cfg.PartnerCheckInterval,
			PlistCheckInterval:   60 * time.Second,
		},
		manager,
		registry,
		infra.NewLaunchdManager(execMode),
		execPath,
		d,
		logger,
	)
	return enforcer.Run(ctx)
}

func createLogger(cfg *config.Config) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{cfg.Logging.File}
	zcfg.ErrorOutputPaths = []string{cfg.Logging.File}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func aliveString(pm domain.ProcessManager, pid int) string {
	if pid > 0 && pm.IsRunning(pid) {
		return fmt.Sprintf("running (pid %d)", pid)
	}
	return "down"
}

func yesNo(b bool) string {
	if b {
		return "granted"
	}
	return "missing"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
