package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jthorne/cacheproxy/internal/config"
	"github.com/jthorne/cacheproxy/internal/logging"
	"github.com/jthorne/cacheproxy/internal/metrics"
	"github.com/jthorne/cacheproxy/internal/proxy"
	"github.com/jthorne/cacheproxy/internal/tracing"
)

func usage() {
    fmt.Fprintf(os.Stderr, "usage: %s [-config file] <port>\n", os.Args[0])
}

func main() {
    configPath := flag.String("config", "", "path to an optional YAML config file")
    flag.Parse()

    if flag.NArg() != 1 {
        usage()
        os.Exit(1)
    }

    port, err := strconv.Atoi(flag.Arg(0))
    if err != nil {
        usage()
        os.Exit(1)
    }

    if *configPath != "" {
        if err := config.LoadConfig(*configPath); err != nil {
            fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
            os.Exit(1)
        }
    }
    cfg := config.GetInstance()
    config.SetPort(port)

    logger := logging.New(cfg.Tracing.ServiceName)

    var shutdownTracing func()
    if cfg.Tracing.Enabled {
        shutdown, err := tracing.InitTracing(cfg.Tracing)
        if err != nil {
            logger.Fatal(context.Background(), "failed to initialise tracing", err)
        }
        shutdownTracing = shutdown
    }

    var m *metrics.Metrics
    if cfg.Metrics.Enabled {
        m = metrics.New()
    }

    server := proxy.NewServer(cfg, m, logger)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

    errChan := make(chan error, 1)
    go func() {
        logger.Info(ctx, "starting proxy", slog.Int("port", cfg.Server.Port))
        if err := server.Start(ctx); err != nil && ctx.Err() == nil {
            errChan <- err
        }
    }()

    select {
    case <-sigChan:
        logger.Info(ctx, "received termination signal, shutting down")
    case err := <-errChan:
        logger.Error(ctx, "proxy failed to start", err)
        os.Exit(1)
    }

    cancel()

    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer shutdownCancel()

    if err := server.Shutdown(shutdownCtx); err != nil {
        logger.Error(context.Background(), "error during shutdown", err)
    }

    if shutdownTracing != nil {
        shutdownTracing()
    }
}
