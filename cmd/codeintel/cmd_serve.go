package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"codeintel/internal/logging"
	"codeintel/internal/protocol"
)

var (
	serveTransport       string
	serveHTTPAddr        string
	serveWatchDir        string
	serveMaintenanceEvery time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the core operations over MCP, LSP, or HTTP",
	Long: `Starts one of the three adapters:

  --transport http   net/http REST surface (default)
  --transport mcp    JSON-RPC-over-stdio MCP tool server
  --transport lsp    Content-Length-framed JSON-RPC language server

When --watch is set, a filesystem watcher additionally tracks changes under
that directory as evolution events, regardless of transport.`,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logging.Get(logging.CategoryAdapter).Info("received shutdown signal")
			cancel()
		}()

		g, gctx := errgroup.WithContext(ctx)

		switch serveTransport {
		case "", "http":
			a.httpapi.Addr = serveHTTPAddr
			g.Go(func() error { return a.httpapi.Start(gctx) })
		case "mcp":
			g.Go(func() error { return a.mcp.Serve(gctx, os.Stdin, os.Stdout) })
		case "lsp":
			g.Go(func() error { return a.lsp.Serve(gctx, os.Stdin, os.Stdout) })
		default:
			cancel()
			return fmt.Errorf("serve: unknown --transport %q", serveTransport)
		}

		if serveWatchDir != "" {
			g.Go(func() error { return watchEvolution(gctx, a, serveWatchDir) })
		}

		if serveMaintenanceEvery > 0 {
			g.Go(func() error { return runMaintenanceLoop(gctx, a, serveMaintenanceEvery) })
		}

		return g.Wait()
	}),
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "http", "http | mcp | lsp")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", ":8089", "listen address when --transport=http")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "directory to watch for evolution tracking (disabled if empty)")
	serveCmd.Flags().DurationVar(&serveMaintenanceEvery, "maintenance-interval", time.Hour, "how often to run substrate + learning maintenance (0 disables)")
}

// runMaintenanceLoop runs shared.Services.Maintenance and the learning
// orchestrator's Maintenance on a ticker until ctx is canceled, logging
// (rather than returning) per-run errors so one bad cycle doesn't bring
// down the whole serve process.
func runMaintenanceLoop(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logging.Get(logging.CategoryAdapter)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.svc.Maintenance(ctx); err != nil {
				log.Errorw("substrate maintenance failed", "err", err)
			}
			if err := a.orchestrator.Maintenance(ctx, 0); err != nil {
				log.Errorw("learning maintenance failed", "err", err)
			}
		}
	}
}

// watchEvolution translates filesystem change events under dir into
// TrackFileChange calls, one call per event with no debouncing: an
// fsnotify.Watcher feeding a single select loop that also watches ctx.Done().
func watchEvolution(ctx context.Context, a *app, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watchEvolution: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watchEvolution: watch %s: %w", dir, err)
	}
	logging.Get(logging.CategoryAdapter).Infow("watching for file changes", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			changeType := fsEventToChangeType(event.Op)
			if changeType == "" {
				continue
			}
			_, err := a.evolution.TrackFileChange(ctx, protocol.TrackFileChangeRequest{
				Path:       event.Name,
				ChangeType: changeType,
				Context:    protocol.EvolutionContext{},
			})
			if err != nil {
				logging.Get(logging.CategoryAdapter).Errorw("track file change failed", "path", event.Name, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryAdapter).Errorw("watcher error", "err", err)
		}
	}
}

func fsEventToChangeType(op fsnotify.Op) protocol.FileChangeType {
	switch {
	case op&fsnotify.Create != 0:
		return protocol.FileChangeCreated
	case op&fsnotify.Write != 0:
		return protocol.FileChangeModified
	case op&fsnotify.Remove != 0:
		return protocol.FileChangeDeleted
	case op&fsnotify.Rename != 0:
		return protocol.FileChangeRenamed
	default:
		return ""
	}
}
