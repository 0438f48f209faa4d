package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/die-net/revproxy/internal/model"
)

// rewriteURLHeader points a Referer or Origin value that refers to the
// proxy itself at the remote origin instead, keeping path and query. Values
// that refer elsewhere are returned unchanged.
func rewriteURLHeader(value string, self []string, remote *url.URL) string {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return value
	}
	if !matchesHost(u.Host, self) {
		return value
	}

	u.Scheme = remote.Scheme
	u.Host = remote.Host
	u.User = nil
	return u.String()
}

func matchesHost(host string, self []string) bool {
	for _, s := range self {
		if s != "" && strings.EqualFold(host, s) {
			return true
		}
	}
	return false
}

func rewriteRefererOrigin(h http.Header, self []string, remote *url.URL) {
	for _, key := range []string{"Referer", "Origin"} {
		if v := h.Get(key); v != "" {
			h.Set(key, rewriteURLHeader(v, self, remote))
		}
	}
}

// applyHeaders overwrites client-supplied headers with the configured ones.
// A configured Host header replaces the outbound Host.
func applyHeaders(r *http.Request, headers []model.Header) {
	for _, h := range headers {
		if strings.EqualFold(h.Key, "Host") {
			r.Host = h.Value
			continue
		}
		r.Header.Set(h.Key, h.Value)
	}
}
