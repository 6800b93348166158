package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/lumos/internal/app"
	"github.com/user/lumos/internal/dom/vdom"
	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/settings"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var pageURL, outPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan <file.html>",
		Short: "Describe the images of a saved HTML page without a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			doc, err := vdom.Parse(pageURL, f)
			f.Close()
			if err != nil {
				return err
			}

			messenger, closeRelay, err := app.NewMessenger(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeRelay()

			// A one-shot scan ignores the persisted toggles.
			session, err := app.StartSession(cmd.Context(), cfg, app.SessionDeps{
				Document:  doc,
				Mutations: doc,
				Relay:     messenger,
				Settings:  settings.NewMemoryStore(entity.DefaultSettings),
			}, log)
			if err != nil {
				return err
			}
			defer session.Close(context.Background())

			waitCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := session.Pipeline.WaitIdle(waitCtx); err != nil {
				return fmt.Errorf("wait for analyses: %w", err)
			}

			states, err := session.Pipeline.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := session.Pipeline.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStates(cmd.OutOrStdout(), states, stats)

			if outPath == "" {
				return nil
			}
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := doc.Render(out); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}

	cmd.Flags().StringVar(&pageURL, "page-url", "https://localhost/", "URL the page was saved from, used to resolve relative sources")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the annotated HTML to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up waiting for analyses after this long")
	return cmd
}
