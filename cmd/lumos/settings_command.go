package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/user/lumos/internal/app"
	"github.com/user/lumos/internal/entity"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the persisted toggles",
	}
	settingsCmd.AddCommand(newSettingsGetCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	return settingsCmd
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			store, closeStore, err := app.NewSettingsStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			s, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var enabled, autoAnalyze bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or both toggles",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("enabled") && !flags.Changed("auto-analyze") {
				return fmt.Errorf("nothing to change: pass --enabled and/or --auto-analyze")
			}
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			store, closeStore, err := app.NewSettingsStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			current, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			var delta entity.SettingsDelta
			if flags.Changed("enabled") {
				delta.Enabled = &enabled
			}
			if flags.Changed("auto-analyze") {
				delta.AutoAnalyze = &autoAnalyze
			}
			next := current.Apply(delta)
			if err := store.Save(cmd.Context(), next); err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), next)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Turn the feature on or off")
	cmd.Flags().BoolVar(&autoAnalyze, "auto-analyze", true, "Analyze images automatically")
	return cmd
}

func printSettings(out io.Writer, s entity.Settings) {
	fmt.Fprintf(out, "enabled:      %t\n", s.Enabled)
	fmt.Fprintf(out, "autoAnalyze:  %t\n", s.AutoAnalyze)
}
