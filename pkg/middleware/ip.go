package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/Suhaibinator/routekit/pkg/common"
)

// IPSourceType names where the client address is read from.
type IPSourceType string

const (
	IPSourceRemoteAddr    IPSourceType = "remote_addr"     // the connection's RemoteAddr
	IPSourceXForwardedFor IPSourceType = "x_forwarded_for" // leftmost X-Forwarded-For entry
	IPSourceXRealIP       IPSourceType = "x_real_ip"       // X-Real-IP header
	IPSourceCustomHeader  IPSourceType = "custom_header"   // IPConfig.CustomHeader
)

// IPConfig controls client IP resolution.
// Header sources are only consulted when TrustProxy is set; otherwise, and whenever
// the header is absent or not an IP address, RemoteAddr is used.
type IPConfig struct {
	Source       IPSourceType
	CustomHeader string
	TrustProxy   bool
}

// DefaultIPConfig trusts X-Forwarded-For.
func DefaultIPConfig() *IPConfig {
	return &IPConfig{
		Source:     IPSourceXForwardedFor,
		TrustProxy: true,
	}
}

type contextKey string

// ClientIPKey is the request context key under which ClientIPMiddleware stores the address.
const ClientIPKey contextKey = "client_ip"

// ClientIP returns the address stored by ClientIPMiddleware, or "".
func ClientIP(r *http.Request) string {
	ip, _ := r.Context().Value(ClientIPKey).(string)
	return ip
}

// ClientIPMiddleware resolves the client address once and stores it in the request
// context, where ClientIP and the server's ClientIP pick it up.
func ClientIPMiddleware(config *IPConfig) common.Middleware {
	if config == nil {
		config = DefaultIPConfig()
	}

	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		common.WithValue(r, ClientIPKey, ExtractClientIP(r, config))
		return next()
	}
}

// ExtractClientIP resolves the client address of r according to config.
// A nil config means DefaultIPConfig.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	if config == nil {
		config = DefaultIPConfig()
	}

	if config.TrustProxy {
		var candidate string
		switch config.Source {
		case IPSourceRemoteAddr:
		case IPSourceXRealIP:
			candidate = r.Header.Get("X-Real-IP")
		case IPSourceCustomHeader:
			if config.CustomHeader != "" {
				candidate = r.Header.Get(config.CustomHeader)
			}
		default:
			candidate = forwardedFor(r)
		}

		if ip := cleanIP(strings.TrimSpace(candidate)); net.ParseIP(ip) != nil {
			return ip
		}
	}

	return cleanIP(r.RemoteAddr)
}

// forwardedFor returns the original client entry of X-Forwarded-For.
func forwardedFor(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	return strings.TrimSpace(first)
}

// cleanIP strips a port and IPv6 brackets from addr.
func cleanIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	// Bare IPv6 addresses fail SplitHostPort with "too many colons"
	return addr
}
