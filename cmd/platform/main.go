// Command platform runs the data platform as a single process: the
// public CRUD/storage API, the admin API, and the background cron
// scheduler all share one *platform.Context.
//
// Grounded in redbco-redb-open/cmd/supervisor/cmd/main.go's shape
// (flag parsing, context-with-cancel, signal-driven graceful shutdown),
// simplified from a gRPC-service supervisor down to a single HTTP
// listener since this platform has no service mesh to supervise.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dataforge/platform/internal/httpapi"
	"github.com/dataforge/platform/internal/platform"
)

var (
	// Version is set at build time via -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

var versionFlag = flag.Bool("version", false, "Show version information and exit")

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("platform %s (%s) %s/%s\n", Version, GitCommit, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := platform.ConfigFromEnv()

	pctx, err := platform.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize platform: %v\n", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(pctx)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		pctx.Logger.Infof("listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pctx.Logger.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		pctx.Logger.Info("received shutdown signal")
	case <-ctx.Done():
		pctx.Logger.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		pctx.Logger.Errorf("http server shutdown error: %v", err)
	}
	pctx.Close()
	pctx.Logger.Info("shutdown complete")
}
