package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/adapter/chromedp_page"
	"github.com/user/lumos/internal/app"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var headful, once bool
	var execPath string

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Open a page in Chrome and describe its images as they appear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}

			page, err := chromedp_page.Open(cmd.Context(), args[0], chromedp_page.Options{
				Headless:        !headful,
				PageLoadTimeout: cfg.PageLoadTimeout(),
				ExecPath:        execPath,
				Logger:          log,
			})
			if err != nil {
				return err
			}
			defer page.Close()

			messenger, closeRelay, err := app.NewMessenger(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeRelay()

			store, closeStore, err := app.NewSettingsStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			session, err := app.StartSession(cmd.Context(), cfg, app.SessionDeps{
				Document:  page,
				Mutations: page,
				Relay:     messenger,
				Settings:  store,
			}, log)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := session.Close(closeCtx); err != nil {
					log.Warn("Session did not close cleanly", zap.Error(err))
				}
			}()

			if once {
				if err := session.Pipeline.WaitIdle(cmd.Context()); err != nil {
					return err
				}
			} else {
				log.Info("Watching page, press Ctrl+C to stop", zap.String("url", page.URL()))
				<-cmd.Context().Done()
			}

			// The command context may be cancelled by now.
			reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			states, err := session.Pipeline.Snapshot(reportCtx)
			if err != nil {
				return err
			}
			stats, err := session.Pipeline.Stats(reportCtx)
			if err != nil {
				return err
			}
			printStates(cmd.OutOrStdout(), states, stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the initial scan settles instead of watching")
	cmd.Flags().StringVar(&execPath, "chrome", "", "Chrome binary path")
	return cmd
}
