package worker

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jthorne/cacheproxy/internal/cache"
	"github.com/jthorne/cacheproxy/internal/queue"
)

func newTestWorker(t *testing.T, maxObjectSize int) *Worker {
    t.Helper()
    c := cache.New(1049000, maxObjectSize)
    q := queue.New(1)
    return New(0, c, q, nil, nil, nil, 8192, nil)
}

// stubOrigin starts a TCP listener that writes body verbatim to every
// accepted connection and closes it, mirroring end-to-end scenario 1's
// stub origin.
func stubOrigin(t *testing.T, body string) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil {
        t.Fatalf("failed to start stub origin: %v", err)
    }
    t.Cleanup(func() { ln.Close() })

    go func() {
        for {
            conn, err := ln.Accept()
            if err != nil {
                return
            }
            go func(c net.Conn) {
                defer c.Close()
                buf := make([]byte, 4096)
                c.Read(buf) // drain the request
                c.Write([]byte(body))
            }(conn)
        }
    }()

    return ln.Addr().String()
}

// resetOrigin starts a TCP listener that writes partial (unterminated-line)
// body content and then forces a TCP reset, producing a genuine mid-stream
// read error rather than a clean io.EOF.
func resetOrigin(t *testing.T, partialBody string) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil {
        t.Fatalf("failed to start reset origin: %v", err)
    }
    t.Cleanup(func() { ln.Close() })

    go func() {
        for {
            conn, err := ln.Accept()
            if err != nil {
                return
            }
            go func(c net.Conn) {
                buf := make([]byte, 4096)
                c.Read(buf)
                c.Write([]byte(partialBody))
                if tcp, ok := c.(*net.TCPConn); ok {
                    tcp.SetLinger(0)
                }
                c.Close()
            }(conn)
        }
    }()

    return ln.Addr().String()
}

func serveRequest(t *testing.T, w *Worker, requestLine string) string {
    t.Helper()
    client, server := net.Pipe()
    done := make(chan struct{})

    go func() {
        w.serve(nil, server)
        close(done)
    }()

    client.Write([]byte(requestLine + "\r\n\r\n"))

    client.SetReadDeadline(time.Now().Add(2 * time.Second))
    var out strings.Builder
    buf := make([]byte, 4096)
    for {
        n, err := client.Read(buf)
        if n > 0 {
            out.Write(buf[:n])
        }
        if err != nil {
            break
        }
    }
    <-done
    return out.String()
}

func TestCacheHitServesWithoutDialing(t *testing.T) {
    w := newTestWorker(t, 102400)
    w.Dial = func(network, address string) (net.Conn, error) {
        t.Fatal("expected no dial on a cache hit")
        return nil, nil
    }
    w.Cache.Insert("127.0.0.1:9/a", []byte("HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello"))

    out := serveRequest(t, w, "GET 127.0.0.1:9/a HTTP/1.0")
    if !strings.Contains(out, "hello") {
        t.Errorf("expected cached body in response, got %q", out)
    }
}

func TestCacheMissFetchesAndPopulatesCache(t *testing.T) {
    w := newTestWorker(t, 102400)
    addr := stubOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello")
    target := "/a"
    host, portStr, _ := net.SplitHostPort(addr)
    requestLine := fmt.Sprintf("GET http://%s:%s%s HTTP/1.0", host, portStr, target)

    out := serveRequest(t, w, requestLine)
    if !strings.Contains(out, "hello") {
        t.Fatalf("expected origin body in response, got %q", out)
    }

    cacheKey := fmt.Sprintf("http://%s:%s%s", host, portStr, target)
    if _, hit := w.Cache.Find(cacheKey); !hit {
        t.Error("expected response to be cached after a successful miss")
    }
}

func TestOversizeBodyStreamedButNotCached(t *testing.T) {
    w := newTestWorker(t, 1000)
    bigBody := strings.Repeat("x", 5000)
    addr := stubOrigin(t, "HTTP/1.0 200 OK\r\n\r\n"+bigBody)
    host, portStr, _ := net.SplitHostPort(addr)
    requestLine := fmt.Sprintf("GET http://%s:%s/big HTTP/1.0", host, portStr)

    out := serveRequest(t, w, requestLine)
    if !strings.Contains(out, bigBody) {
        t.Error("expected full oversize body to be streamed to the client")
    }

    cacheKey := fmt.Sprintf("http://%s:%s/big", host, portStr)
    if _, hit := w.Cache.Find(cacheKey); hit {
        t.Error("expected oversize response to be skipped by the cache")
    }
}

func TestMidStreamReadErrorAbortsCaching(t *testing.T) {
    w := newTestWorker(t, 102400)
    addr := resetOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 1000\r\n\r\npartial-body-no-trailing-newline")
    host, portStr, _ := net.SplitHostPort(addr)
    requestLine := fmt.Sprintf("GET http://%s:%s/reset HTTP/1.0", host, portStr)

    serveRequest(t, w, requestLine)

    cacheKey := fmt.Sprintf("http://%s:%s/reset", host, portStr)
    if _, hit := w.Cache.Find(cacheKey); hit {
        t.Error("expected a mid-stream read error to abort caching, not store a truncated response")
    }
}

func TestUnsupportedMethodReturns501(t *testing.T) {
    w := newTestWorker(t, 102400)
    w.Dial = func(network, address string) (net.Conn, error) {
        t.Fatal("expected no dial for an unsupported method")
        return nil, nil
    }

    out := serveRequest(t, w, "POST http://example.com/ HTTP/1.0")
    if !strings.HasPrefix(out, "HTTP/1.0 501") {
        t.Errorf("expected 501 response, got %q", out)
    }
    if !strings.Contains(out, "POST") {
        t.Error("expected offending method in response body")
    }
}

func TestOriginUnreachableReturns503(t *testing.T) {
    w := newTestWorker(t, 102400)
    w.Dial = func(network, address string) (net.Conn, error) {
        return nil, fmt.Errorf("connection refused")
    }

    out := serveRequest(t, w, "GET http://unreachable-host.example/a HTTP/1.0")
    if !strings.HasPrefix(out, "HTTP/1.0 503") {
        t.Errorf("expected 503 response, got %q", out)
    }
    if !strings.Contains(out, "unreachable-host.example") {
        t.Error("expected hostname in response body")
    }
}

func TestConcurrentReadersOfSameCachedURI(t *testing.T) {
    w := newTestWorker(t, 102400)
    w.Cache.Insert("u", []byte("HTTP/1.0 200 OK\r\n\r\nhello"))

    const n = 20
    results := make(chan string, n)
    for i := 0; i < n; i++ {
        go func() {
            client, server := net.Pipe()
            go func() {
                defer server.Close()
                br := bufio.NewReader(client)
                client.Write([]byte("GET u HTTP/1.0\r\n\r\n"))
                buf := make([]byte, 4096)
                nread, _ := br.Read(buf)
                results <- string(buf[:nread])
                client.Close()
            }()
            w.serve(nil, server)
        }()
    }

    for i := 0; i < n; i++ {
        got := <-results
        if !strings.Contains(got, "hello") {
            t.Errorf("expected cached body, got %q", got)
        }
    }
}
