package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

var (
	ruleName      string
	ruleMinutes   int
	rulePermanent bool
)

func addRuleCommands(root *cobra.Command) {
	addCmd := &cobra.Command{
		Use:   "add <app-id>",
		Short: "Block an application",
		Long: `Blocks an application by its bundle id (e.g. com.valvesoftware.steam).
Re-adding an app restarts its block period with the new duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := resolveMinutes(ruleMinutes, rulePermanent)
			if err != nil {
				return err
			}
			return withRules(func(svc *usecase.RuleService) error {
				rule, err := svc.AddOrUpdate(args[0], ruleName, minutes)
				if err != nil {
					return err
				}
				fmt.Printf("Blocked %s (%s)\n", rule.DisplayName, rule.Remaining(rule.BlockedAt))
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&ruleName, "name", "", "Display name")
	addCmd.Flags().IntVar(&ruleMinutes, "duration", 60, "Block duration in minutes")
	addCmd.Flags().BoolVar(&rulePermanent, "permanent", false, "Block until removed")

	removeCmd := &cobra.Command{
		Use:   "remove <app-id>",
		Short: "Unblock an application and forget its rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(svc *usecase.RuleService) error {
				existed := svc.Has(args[0])
				if err := svc.Remove(args[0]); err != nil {
					return err
				}
				fmt.Println(ruleMessage("Removed", args[0], existed))
				return nil
			})
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <app-id>",
		Short: "Stop blocking an application, keeping its rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(svc *usecase.RuleService) error {
				if err := svc.Pause(args[0]); err != nil {
					return err
				}
				fmt.Println(ruleMessage("Paused", args[0], svc.Has(args[0])))
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <app-id>",
		Short: "Resume blocking a paused application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(svc *usecase.RuleService) error {
				if err := svc.Resume(args[0]); err != nil {
					return err
				}
				fmt.Println(ruleMessage("Resumed", args[0], svc.Has(args[0])))
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blocked applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(svc *usecase.RuleService) error {
				views := svc.List()
				if jsonOutput {
					return writeJSON(os.Stdout, views)
				}
				printRules(os.Stdout, views)
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output rules as JSON")

	root.AddCommand(addCmd, removeCmd, pauseCmd, resumeCmd, listCmd)
}

// resolveMinutes turns the add flags into a rule duration. Zero is a valid,
// already expired block.
func resolveMinutes(minutes int, permanent bool) (int, error) {
	if permanent {
		return domain.PermanentDuration, nil
	}
	if minutes < 0 {
		return 0, fmt.Errorf("--duration must not be negative, use --permanent for no expiry")
	}
	return minutes, nil
}

func ruleMessage(verb, targetID string, found bool) string {
	if !found {
		return fmt.Sprintf("No rule for %s, nothing to do", targetID)
	}
	return fmt.Sprintf("%s %s", verb, targetID)
}

// withRules opens the configured rule store for the duration of fn.
func withRules(fn func(svc *usecase.RuleService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openRuleStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(usecase.NewRuleService(store))
}

// openRuleStore returns the backend selected by APPGUARD_STORE_BACKEND.
func openRuleStore(cfg *config.Config, logger *zap.Logger) (domain.RuleStore, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	switch cfg.Backend {
	case config.BackendEncrypted:
		store, err := infra.OpenEncryptedRuleStore(cfg.DataDir, infra.NewFileKeyProvider(cfg.DataDir), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return infra.NewFileRuleStore(cfg.DataDir, logger), func() {}, nil
	}
}

func printRules(w io.Writer, views []usecase.RuleView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No blocked applications. Use 'appguard add <app-id>'.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tNAME\tSTATE\tREMAINING")
	for _, v := range views {
		state := "blocking"
		switch {
		case !v.IsActive:
			state = "paused"
		case !v.Enforceable:
			state = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.TargetID, v.DisplayName, state, v.Remaining)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
