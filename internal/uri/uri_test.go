package uri

import "testing"

func TestParse(t *testing.T) {
    cases := []struct {
        name     string
        target   string
        wantHost string
        wantPath string
        wantPort int
    }{
        {"absolute with port and path", "http://host:8080/p", "host", "/p", 8080},
        {"relative path defaults to port 80", "host/p", "host", "/p", 80},
        {"absolute with no path defaults to /", "http://host", "host", "/", 80},
        {"bare host no slash no port", "host", "host", "/", 80},
        {"case-insensitive scheme prefix", "HTTP://host/p", "host", "/p", 80},
        {"port with no following path", "host:9000", "host", "/", 9000},
        {"empty path after host", "http://host/", "host", "/", 80},
        {"deep path", "http://host:81/a/b/c", "host", "/a/b/c", 81},
        {"non-numeric port falls back to default", "host:abc/p", "host", "/", 80},
        {"empty target", "", "", "/", 80},
    }

    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            host, path, port := Parse(tc.target)
            if host != tc.wantHost || path != tc.wantPath || port != tc.wantPort {
                t.Errorf("Parse(%q) = (%q, %q, %d), want (%q, %q, %d)",
                    tc.target, host, path, port, tc.wantHost, tc.wantPath, tc.wantPort)
            }
        })
    }
}
