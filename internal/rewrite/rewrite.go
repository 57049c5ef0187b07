// Package rewrite implements the request rewriter (C4) and the error
// responder (C7). The rewriter turns a client's request line and headers
// into the origin-bound HTTP/1.0 request; the error responder emits a
// minimal HTML error page for 501/503 conditions.
package rewrite

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// UserAgent is the fixed upstream User-Agent the proxy always presents to
// origins, regardless of what the client sent.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"

// suppressedPrefixes lists client headers dropped (prefix match,
// case-insensitive) because the proxy synthesizes its own values for them.
var suppressedPrefixes = []string{"user-agent", "connection", "proxy-connection"}

// Header is one raw "Name: value" header line as received from the
// client, stripped of its trailing CRLF.
type Header struct {
    Name  string
    Value string
}

// ReadHeaders reads header lines from br up to and including the blank
// line that terminates an HTTP request, returning them in receipt order.
// A line longer than maxLine aborts with an error rather than silently
// truncating or overflowing a fixed buffer.
func ReadHeaders(br *bufio.Reader, maxLine int) ([]Header, error) {
    var headers []Header
    for {
        line, err := readLine(br, maxLine)
        if err != nil {
            return nil, err
        }
        if line == "" {
            return headers, nil
        }
        name, value, ok := strings.Cut(line, ":")
        if !ok {
            continue
        }
        headers = append(headers, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
    }
}

// readLine reads a single CRLF- or LF-terminated line, bounded to maxLine
// bytes, and returns it with the line terminator stripped.
func readLine(br *bufio.Reader, maxLine int) (string, error) {
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
            return "", fmt.Errorf("request line exceeds %d bytes", maxLine)
        }
    }
    return strings.TrimRight(string(buf), "\r"), nil
}

// BuildOriginRequest assembles the rewritten request the proxy sends to
// the origin: a GET request line pinned to HTTP/1.0, a Host header
// (reused from the client if supplied, else synthesized), every other
// client header preserved verbatim in receipt order, the proxy's fixed
// User-Agent, and Connection/Proxy-Connection both set to close.
//
// The result is bounded to maxLine bytes total; an oversize header set is
// truncated rather than rejected outright.
func BuildOriginRequest(hostname, path string, headers []Header, maxLine int) []byte {
    var b strings.Builder

    fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", path)

    hostSeen := false
    for _, h := range headers {
        if suppressed(h.Name) {
            continue
        }
        if strings.EqualFold(h.Name, "host") {
            hostSeen = true
        }
        fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
    }
    if !hostSeen {
        fmt.Fprintf(&b, "Host: %s\r\n", hostname)
    }

    fmt.Fprintf(&b, "User-Agent: %s\r\n", UserAgent)
    b.WriteString("Connection: close\r\n")
    b.WriteString("Proxy-Connection: close\r\n")
    b.WriteString("\r\n")

    out := b.String()
    if len(out) > maxLine {
        out = out[:maxLine]
    }
    return []byte(out)
}

func suppressed(name string) bool {
    lower := strings.ToLower(name)
    for _, prefix := range suppressedPrefixes {
        if strings.HasPrefix(lower, prefix) {
            return true
        }
    }
    return false
}

// WriteError emits an HTTP/1.0 error response with status, reason, and a
// minimal HTML body naming cause. Used for 501 Not Implemented and 503
// Service Unavailable.
func WriteError(w io.Writer, status int, reason, cause string) error {
    body := fmt.Sprintf(
        "<html><title>Proxy Error</title><body bgcolor=\"ffffff\">\n%d: %s\n<p>%s\n</body></html>\n",
        status, reason, cause,
    )

    resp := fmt.Sprintf(
        "HTTP/1.0 %d %s\r\nContent-type: text/html\r\nContent-length: %d\r\n\r\n%s",
        status, reason, len(body), body,
    )

    _, err := io.WriteString(w, resp)
    return err
}
