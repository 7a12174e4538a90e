package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vfrnav/vfrnav/pkg/api"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/popup"
	"github.com/vfrnav/vfrnav/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge server EFB panels connect to",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	records, err := store.OpenRecords(cfg.Storage.RecordsDB)
	if err != nil {
		return err
	}
	defer records.Close()

	settings, err := store.OpenSettings(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	popups := popup.New(popup.WithWatchBuffer(cfg.Popup.WatchBuffer))
	defer popups.Close()

	srv, err := api.NewServer(cfg, api.Deps{
		Records:  records,
		Settings: settings,
		Popups:   popups,
		Schemas:  loadSchemas(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, err := srv.Listen()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "vfrnav bridge listening on ws://%s/api/ws\n", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		logPopups(gctx, popups.Watch("log"))
		return nil
	})
	if cfg.Schemas.Watch {
		g.Go(func() error {
			return watchSchemas(gctx, cfg.Schemas.Dir, func() {
				srv.SetSchemas(loadSchemas())
			})
		})
	}

	// Serve returns only after every peer has detached, so the deferred
	// store closes run after the last read loop.
	err = g.Wait()
	logger.InfoC("api", "Shut down")
	return err
}

// logPopups mirrors display changes into the log so a headless server
// still surfaces them.
func logPopups(ctx context.Context, ch <-chan popup.Cursor) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if !c.Showing {
				logger.DebugC("popup", "No popup showing")
				continue
			}
			logger.InfoCF("popup", "Popup showing", map[string]interface{}{
				"id":      c.ID,
				"level":   c.Level.String(),
				"content": c.Content,
			})
		}
	}
}
