package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one enforcement tick without interrupting anything",
	Long: `Samples the foreground application once and reports what the daemon
would do with it. Nothing is shown, quit, or navigated.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// dryRunPresenter accepts every interstitial request without showing anything.
type dryRunPresenter struct{}

func (dryRunPresenter) Show(ctx context.Context, req usecase.ShowRequest) error {
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openRuleStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	transitions := infra.NewTransitionLog(infra.NewAppleScriptReader(), 0, logger)
	caps := infra.NewHostCapabilities(transitions, nil)
	monitor := usecase.NewForegroundMonitor(transitions, cfg.QueryWindow, cfg.SelfID, cfg.ExtraExcluded...)
	engine := usecase.NewEnforcementEngine(monitor, store, dryRunPresenter{}, caps, cfg.DebounceWindow, logger, nil)

	decision := engine.Tick(context.Background())
	printDecision(os.Stdout, decision, transitions.Granted())

	if decision.Outcome == usecase.OutcomeError {
		return errors.New("foreground query failed; see log output above")
	}
	return nil
}

func printDecision(w io.Writer, d usecase.Decision, granted bool) {
	fmt.Fprintln(w, "\n=== appguard Check ===")
	if d.TargetID != "" {
		fmt.Fprintf(w, "Foreground: %s\n", d.TargetID)
	}

	switch d.Outcome {
	case usecase.OutcomeTriggered:
		fmt.Fprintf(w, "Result: would interrupt (%s)\n", d.Remaining)
	case usecase.OutcomeNoRule:
		fmt.Fprintln(w, "Result: not blocked")
	case usecase.OutcomeInactive:
		fmt.Fprintln(w, "Result: rule paused")
	case usecase.OutcomeExpired:
		fmt.Fprintln(w, "Result: block expired")
	case usecase.OutcomeUnknown:
		fmt.Fprintln(w, "Result: no foreground application (or an excluded one)")
	default:
		fmt.Fprintf(w, "Result: %s\n", d.Outcome)
	}

	if !granted {
		fmt.Fprintln(w, "\nForeground access is missing. Grant Automation (System Events) and")
		fmt.Fprintln(w, "Accessibility permission to appguard in System Settings > Privacy & Security.")
	}
	fmt.Fprintln(w, "======================")
}
