package relay

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// clientIP returns the client address used as a rate-limit scope, considering
// proxies. It looks at Forwarded, X-Forwarded-For, then falls back to
// r.RemoteAddr.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	// RFC 7239 Forwarded: for=; proto=
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		for _, part := range strings.Split(fwd, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				v := strings.Trim(strings.TrimPrefix(part, "for="), "\"")
				if v != "" {
					return stripPort(v)
				}
			}
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		v := strings.TrimSpace(strings.Split(xff, ",")[0])
		if v != "" {
			return stripPort(v)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// allowedOrigin resolves the Access-Control-Allow-Origin value for a request.
// Without an allow-list the relay is permissive: the consumer runs in a host
// page of unknown origin. With an allow-list, the origin is admitted when its
// eTLD+1 matches a configured domain.
func (h *Handler) allowedOrigin(r *http.Request) string {
	if len(h.AllowedOriginDomains) == 0 {
		return "*"
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return ""
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	host := stripPort(parsed.Host)
	top, err := topDomain(host)
	if err != nil {
		return ""
	}
	for _, domain := range h.AllowedOriginDomains {
		if top == domain || host == domain {
			return origin
		}
	}
	return ""
}

// topDomain returns eTLD+1 for a host (e.g., app.example.co.uk -> example.co.uk).
func topDomain(host string) (string, error) {
	if host == "" || isIP(host) || isLocalhost(host) {
		return host, nil
	}
	e, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", err
	}
	if e == "" {
		return host, nil
	}
	return e, nil
}

func isIP(h string) bool { return net.ParseIP(stripPort(h)) != nil }

func isLocalhost(h string) bool {
	h = strings.ToLower(stripPort(h))
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i > -1 {
		return h[:i]
	}
	return h
}
