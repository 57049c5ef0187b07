// Package uri implements the request-target parser (C3): decomposing an
// absolute HTTP URI, a host-relative path, or a bare host into hostname,
// path, and port. Parse is total — it always produces a result, even for
// pathological input; such inputs surface later as a failed origin
// connect, reported as 503, rather than a parse error here.
package uri

import "strings"

const (
    defaultPort = 80
    defaultPath = "/"
    httpPrefix  = "http://"
)

// Parse decomposes target into (host, path, port).
//
//  1. A leading "http://" (case-insensitive) is stripped.
//  2. If a ':' appears before any '/', everything before it is the host
//     and the decimal digits that follow are the port.
//  3. Otherwise the host runs up to the first '/', and the path is
//     everything from that '/' onward.
//  4. If no '/' follows the host, the path defaults to "/".
func Parse(target string) (host string, path string, port int) {
    rest := target
    if len(rest) >= len(httpPrefix) && strings.EqualFold(rest[:len(httpPrefix)], httpPrefix) {
        rest = rest[len(httpPrefix):]
    }

    slashIdx := strings.IndexByte(rest, '/')
    colonIdx := strings.IndexByte(rest, ':')

    // A colon only counts as a port separator if it precedes any slash.
    if colonIdx >= 0 && (slashIdx < 0 || colonIdx < slashIdx) {
        host = rest[:colonIdx]
        portStr, tail := splitDigits(rest[colonIdx+1:])
        if p, ok := parsePort(portStr); ok {
            port = p
        } else {
            port = defaultPort
        }
        path = pathOrDefault(tail)
        return host, path, port
    }

    if slashIdx < 0 {
        return rest, defaultPath, defaultPort
    }

    return rest[:slashIdx], rest[slashIdx:], defaultPort
}

// splitDigits returns the leading run of decimal digits in s and the
// remainder starting at the first non-digit (or the whole string if s is
// all digits).
func splitDigits(s string) (digits string, rest string) {
    i := 0
    for i < len(s) && s[i] >= '0' && s[i] <= '9' {
        i++
    }
    return s[:i], s[i:]
}

func parsePort(digits string) (int, bool) {
    if digits == "" {
        return 0, false
    }
    n := 0
    for i := 0; i < len(digits); i++ {
        n = n*10 + int(digits[i]-'0')
    }
    return n, true
}

func pathOrDefault(tail string) string {
    if tail == "" || tail[0] != '/' {
        return defaultPath
    }
    return tail
}
