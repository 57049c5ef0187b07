// Package worker implements the request worker (C5): the per-connection
// state machine that drives a cache lookup, and on a miss, an origin
// dial, request rewrite, line-streamed response relay, and opportunistic
// cache insert.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jthorne/cacheproxy/internal/cache"
	"github.com/jthorne/cacheproxy/internal/logging"
	"github.com/jthorne/cacheproxy/internal/metrics"
	"github.com/jthorne/cacheproxy/internal/queue"
	"github.com/jthorne/cacheproxy/internal/ratelimit"
	"github.com/jthorne/cacheproxy/internal/rewrite"
	"github.com/jthorne/cacheproxy/internal/uri"
)

// Dialer abstracts outbound origin connections so tests can substitute an
// in-process stub without touching the network stack.
type Dialer func(network, address string) (net.Conn, error)

const (
    cacheHit  = "hit"
    cacheMiss = "miss"
    cacheSkip = "skip"
)

// Worker drives one connection at a time, pulled from the shared queue,
// for the lifetime of the process. A Worker is not safe for concurrent
// use of a single instance by multiple goroutines; the supervisor runs
// NTHREADS independent Workers, each reading from the same queue.
type Worker struct {
    ID      int
    Cache   *cache.Cache
    Queue   *queue.ConnQueue
    Limiter *ratelimit.Limiter
    Metrics *metrics.Metrics
    Logger  *logging.Logger
    MaxLine int
    Dial    Dialer
}

// New constructs a Worker wired to the shared cache, queue, and optional
// rate limiter/metrics/logger. A nil Dial falls back to net.Dial.
func New(id int, c *cache.Cache, q *queue.ConnQueue, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *logging.Logger, maxLine int, dial Dialer) *Worker {
    if dial == nil {
        dial = net.Dial
    }
    return &Worker{
        ID:      id,
        Cache:   c,
        Queue:   q,
        Limiter: limiter,
        Metrics: m,
        Logger:  logger,
        MaxLine: maxLine,
        Dial:    dial,
    }
}

// Run loops dequeuing connections until ctx is done, serving each to
// completion before dequeuing the next. This is the worker's entire
// lifetime: it never returns except at shutdown.
func (w *Worker) Run(ctx context.Context) {
    for {
        conn, err := w.Queue.Dequeue(ctx)
        if err != nil {
            return
        }
        w.serve(ctx, conn)
    }
}

// serve handles exactly one connection end to end and always closes it
// on every exit path.
func (w *Worker) serve(ctx context.Context, conn net.Conn) {
    defer conn.Close()

    if w.Metrics != nil {
        w.Metrics.IncrementConnections()
        defer w.Metrics.DecrementConnections()
    }

    if w.Limiter != nil && !w.Limiter.Allow(conn.RemoteAddr().String()) {
        w.warn(ctx, "connection rejected by rate limiter", "remote_addr", conn.RemoteAddr().String())
        return
    }

    start := time.Now()
    br := bufio.NewReader(conn)

    requestLine, err := readBoundedLine(br, w.MaxLine)
    if err != nil {
        w.warn(ctx, "failed to read request line", "error", err.Error())
        return
    }

    method, target, ok := parseRequestLine(requestLine)
    if !ok {
        w.warn(ctx, "malformed request line", "line", requestLine)
        rewrite.WriteError(conn, 500, "Internal Server Error", "malformed request line")
        return
    }

    headers, err := rewrite.ReadHeaders(br, w.MaxLine)
    if err != nil {
        w.warn(ctx, "failed to read headers", "error", err.Error())
        rewrite.WriteError(conn, 500, "Internal Server Error", "header line too long")
        return
    }

    if !strings.EqualFold(method, "GET") {
        rewrite.WriteError(conn, 501, "Not Implemented", method)
        w.record(ctx, method, target, 501, cacheSkip, 0, time.Since(start))
        return
    }

    if body, hit := w.Cache.Find(target); hit {
        n, err := conn.Write(body)
        if err != nil {
            w.warn(ctx, "write to client failed on cache hit", "error", err.Error())
        }
        w.record(ctx, method, target, 200, cacheHit, int64(n), time.Since(start))
        return
    }

    w.serveMiss(ctx, conn, method, target, headers, start)
}

// serveMiss handles the cache-miss branch: origin dial, rewrite, send,
// stream-and-capture, and the opportunistic cache insert.
func (w *Worker) serveMiss(ctx context.Context, client net.Conn, method, target string, headers []rewrite.Header, start time.Time) {
    host, path, port := uri.Parse(target)

    origin, err := w.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
    if err != nil {
        rewrite.WriteError(client, 503, "Service Unavailable", host)
        w.record(ctx, method, target, 503, cacheMiss, 0, time.Since(start))
        return
    }
    defer origin.Close()

    req := rewrite.BuildOriginRequest(host, path, headers, w.MaxLine)
    if _, err := origin.Write(req); err != nil {
        w.warn(ctx, "failed to send request to origin", "error", err.Error(), "host", host)
        return
    }

    status, bytesWritten, cacheResult := w.streamAndCapture(ctx, client, origin, target)
    w.record(ctx, method, target, status, cacheResult, bytesWritten, time.Since(start))
}

// streamAndCapture relays the origin's response to the client line by
// line, writing through immediately while also buffering into a capture
// up to MaxObjectSize bytes. If the capture stays within bounds and the
// origin closes cleanly (io.EOF), it is inserted into the cache. A
// mid-stream read error (anything other than io.EOF) aborts without
// caching, even though the bytes already relayed to the client stand;
// an oversize response is likewise streamed in full but never cached.
func (w *Worker) streamAndCapture(ctx context.Context, client, origin net.Conn, target string) (status int, bytesWritten int64, cacheResult string) {
    br := bufio.NewReader(origin)
    var captured bytes.Buffer
    overCapacity := false
    firstLine := true
    status = 200

    for {
        line, readErr := br.ReadString('\n')
        if len(line) > 0 {
            if firstLine {
                if code, ok := parseStatusLine(line); ok {
                    status = code
                }
                firstLine = false
            }

            n, writeErr := client.Write([]byte(line))
            bytesWritten += int64(n)
            if writeErr != nil {
                w.warn(ctx, "write to client failed mid-stream", "error", writeErr.Error(), "target", target)
                return status, bytesWritten, cacheSkip
            }

            if !overCapacity {
                if captured.Len()+len(line) > w.Cache.MaxObjectSize() {
                    overCapacity = true
                } else {
                    captured.WriteString(line)
                }
            }
        }

        if readErr != nil {
            if readErr != io.EOF {
                w.warn(ctx, "read from origin failed mid-stream", "error", readErr.Error(), "target", target)
                return status, bytesWritten, cacheSkip
            }
            break
        }
    }

    if overCapacity {
        w.warn(ctx, "response exceeds max object size, not cached", "target", target)
        return status, bytesWritten, cacheSkip
    }

    w.Cache.Insert(target, captured.Bytes())
    return status, bytesWritten, cacheMiss
}

func (w *Worker) record(ctx context.Context, method, target string, status int, cacheResult string, bytes int64, duration time.Duration) {
    if w.Metrics != nil {
        w.Metrics.RecordRequest(method, status, cacheResult, duration)
    }
    if w.Logger != nil {
        w.Logger.LogRequest(ctx, method, target, status, cacheResult, bytes, duration)
    }
}

func (w *Worker) warn(ctx context.Context, msg string, kv ...string) {
    if w.Logger == nil {
        return
    }
    attrs := make([]slog.Attr, 0, len(kv)/2)
    for i := 0; i+1 < len(kv); i += 2 {
        attrs = append(attrs, slog.String(kv[i], kv[i+1]))
    }
    w.Logger.Warn(ctx, msg, attrs...)
}

// readBoundedLine reads one CRLF/LF-terminated line bounded to maxLine
// bytes, with the terminator stripped.
func readBoundedLine(br *bufio.Reader, maxLine int) (string, error) {
    var buf []byte
    for {
        b, err := br.ReadByte()
        if err != nil {
            return "", err
        }
        if b == '\n' {
            break
        }
        buf = append(buf, b)
        if len(buf) > maxLine {
            return "", fmt.Errorf("line exceeds %d bytes", maxLine)
        }
    }
    return strings.TrimRight(string(buf), "\r"), nil
}

// parseRequestLine splits "METHOD SP target SP version" into method and
// target. The HTTP version token is accepted but not otherwise validated;
// upstream requests are always reissued as HTTP/1.0 regardless of what
// the client declared.
func parseRequestLine(line string) (method, target string, ok bool) {
    fields := strings.Fields(line)
    if len(fields) < 2 {
        return "", "", false
    }
    return fields[0], fields[1], true
}

// parseStatusLine extracts the numeric status code from an origin
// response's first line ("HTTP/1.0 200 OK").
func parseStatusLine(line string) (int, bool) {
    fields := strings.Fields(line)
    if len(fields) < 2 {
        return 0, false
    }
    code, err := strconv.Atoi(fields[1])
    if err != nil {
        return 0, false
    }
    return code, true
}
