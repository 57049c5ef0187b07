package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jthorne/cacheproxy/internal/cache"
	"github.com/jthorne/cacheproxy/internal/config"
	"github.com/jthorne/cacheproxy/internal/logging"
	"github.com/jthorne/cacheproxy/internal/metrics"
	"github.com/jthorne/cacheproxy/internal/queue"
	"github.com/jthorne/cacheproxy/internal/ratelimit"
	"github.com/jthorne/cacheproxy/internal/worker"
)

// Server is the connection acceptor and worker pool supervisor (C6). It
// owns the shared cache and handoff queue, starts a fixed pool of workers
// that dequeue from it, and accepts connections for the lifetime of the
// process until Shutdown is called.
type Server struct {
    config  *config.Config
    cache   *cache.Cache
    queue   *queue.ConnQueue
    limiter *ratelimit.Limiter
    metrics *metrics.Metrics
    logger  *logging.Logger

    listener      net.Listener
    metricsServer *http.Server

    wg sync.WaitGroup
}

// NewServer wires the cache, queue, and rate limiter from cfg; the worker
// pool itself is started by Start. Metrics and a logger are optional;
// either may be nil to disable the corresponding instrumentation.
func NewServer(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) *Server {
    var limiter *ratelimit.Limiter
    if cfg.RateLimit.Enabled {
        limiter = ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
    }

    return &Server{
        config:  cfg,
        cache:   cache.New(cfg.Cache.MaxCacheSize, cfg.Cache.MaxObjectSize),
        queue:   queue.New(cfg.Pool.QueueCapacity),
        limiter: limiter,
        metrics: m,
        logger:  logger,
    }
}

// Start binds the listener, launches the worker pool and the cache-stats
// sampler, and accepts connections until ctx is done or Shutdown is
// called. It returns once the accept loop has stopped.
func (s *Server) Start(ctx context.Context) error {
    ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
    if err != nil {
        return fmt.Errorf("failed to bind listener: %w", err)
    }
    s.listener = ln

    for i := 0; i < s.config.Pool.Workers; i++ {
        w := worker.New(i, s.cache, s.queue, s.limiter, s.metrics, s.logger, s.config.Limits.MaxLine, nil)
        s.wg.Add(1)
        go func() {
            defer s.wg.Done()
            w.Run(ctx)
        }()
    }

    s.wg.Add(1)
    go func() {
        defer s.wg.Done()
        s.runStatsSampler(ctx)
    }()

    if s.config.Metrics.Enabled && s.metrics != nil {
        s.startMetricsServer()
    }

    return s.acceptLoop(ctx)
}

// acceptLoop accepts connections and hands each to the queue until ctx is
// done or the listener is closed by Shutdown.
func (s *Server) acceptLoop(ctx context.Context) error {
    for {
        conn, err := s.listener.Accept()
        if err != nil {
            select {
            case <-ctx.Done():
                return ctx.Err()
            default:
                if errors.Is(err, net.ErrClosed) {
                    return nil
                }
                if s.logger != nil {
                    s.logger.Warn(ctx, "accept failed")
                }
                continue
            }
        }

        if err := s.queue.Enqueue(ctx, conn); err != nil {
            conn.Close()
            return nil
        }
    }
}

// runStatsSampler periodically reports cache occupancy and queue depth to
// the metrics gauges, mirroring the cadence of a background health
// monitor but sampling cache state instead of backend reachability.
func (s *Server) runStatsSampler(ctx context.Context) {
    if s.metrics == nil {
        <-ctx.Done()
        return
    }

    interval := s.config.Stats.Interval
    if interval <= 0 {
        interval = 30 * time.Second
    }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()

    s.sampleStats()
    for {
        select {
        case <-ticker.C:
            s.sampleStats()
        case <-ctx.Done():
            return
        }
    }
}

func (s *Server) sampleStats() {
    s.metrics.UpdateCacheStats(s.cache.Len(), s.cache.SizeBytes())
    s.metrics.UpdateQueueDepth(s.queue.Len())
}

// startMetricsServer launches the Prometheus exposition endpoint in the
// background. Its own lifecycle is tied to Shutdown, not to ctx, so a
// request in flight when the proxy's context is cancelled still gets a
// response.
func (s *Server) startMetricsServer() {
    mux := http.NewServeMux()
    mux.Handle("/metrics", s.metrics.Handler())
    s.metricsServer = &http.Server{
        Addr:    s.config.Metrics.Addr,
        Handler: mux,
    }

    go func() {
        if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            if s.logger != nil {
                s.logger.Warn(context.Background(), "metrics server stopped")
            }
        }
    }()
}

// Shutdown closes the listener, stops accepting new connections, waits
// for the worker pool and sampler to drain, and stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
    if s.listener != nil {
        s.listener.Close()
    }

    done := make(chan struct{})
    go func() {
        s.wg.Wait()
        close(done)
    }()

    select {
    case <-done:
    case <-ctx.Done():
    }

    if s.metricsServer != nil {
        return s.metricsServer.Shutdown(ctx)
    }
    return nil
}

// Cache exposes the shared response cache, for tests and diagnostics.
func (s *Server) Cache() *cache.Cache {
    return s.cache
}
