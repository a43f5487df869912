// Package origin derives the CORS allow-list for the query API.
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Any allows every origin when it is the only configured entry.
const Any = "*"

// AllowedOrigins returns the browser origins allowed to call the API.
// Configured origins (comma, semicolon or whitespace separated) win; when
// none are valid, the loopback origins of listenAddr are allowed.
func AllowedOrigins(listenAddr, configured string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(origin string) {
		if origin == "" {
			return
		}
		if _, ok := seen[origin]; ok {
			return
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}

	for _, raw := range splitList(configured) {
		if raw == Any {
			return []string{Any}
		}
		add(normalize(raw))
	}
	if len(out) > 0 {
		return out
	}

	for _, o := range loopbackOrigins(listenAddr) {
		add(o)
	}
	return out
}

func splitList(s string) []string {
	return strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		}
		return false
	})
}

// normalize reduces an origin to lower-cased scheme://host[:port].
func normalize(origin string) string {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host))
}

func loopbackOrigins(listenAddr string) []string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return nil
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return nil
	}

	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" && host != "0.0.0.0" && host != "::" && host != "127.0.0.1" && host != "localhost" {
		hosts = append(hosts, host)
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if strings.Contains(h, ":") {
			h = "[" + h + "]"
		}
		out = append(out, fmt.Sprintf("http://%s:%s", h, port))
	}
	return out
}
