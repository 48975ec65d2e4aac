package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Bucket selects which client identity a rule keys on.
type Bucket string

const (
	// BucketIP keys on the client address.
	BucketIP Bucket = "ip"
	// BucketUser keys on the authenticated user, falling back to the
	// client address for anonymous requests.
	BucketUser Bucket = "user"
)

// ParseBucket converts a config value to a Bucket. Empty means BucketIP.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case "", BucketIP:
		return BucketIP, nil
	case BucketUser:
		return BucketUser, nil
	default:
		return "", fmt.Errorf("unsupported bucket: %q", s)
	}
}

// FormatKey returns the limiter key for a client on a route.
// Format: "{client}@{route}", e.g. "203.0.113.9@/api/v1/rules/{name}/check".
func FormatKey(client, route string) string {
	return client + "@" + route
}

// PeerIP returns the host part of RemoteAddr, the address of the
// connection that delivered the request.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP returns the peer address. Forwarding headers are ignored; use
// ClientIPWithHops behind a reverse proxy.
func ClientIP(r *http.Request) string {
	return ClientIPWithHops(r, 0)
}

// ClientIPWithHops resolves the client address behind trustedHops reverse
// proxies. X-Forwarded-For is only consulted when trustedHops > 0 and the
// peer is a private or loopback address; the entry trustedHops positions
// from the right is used. A chain shorter than trustedHops, or an entry
// that is not an IP, falls back to the peer.
func ClientIPWithHops(r *http.Request, trustedHops int) string {
	peer := PeerIP(r)
	if trustedHops <= 0 || !isTrustedPeer(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		return peer
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		return peer
	}
	ip := net.ParseIP(strings.TrimSpace(parts[idx]))
	if ip == nil {
		return peer
	}
	return ip.String()
}

func isTrustedPeer(peer string) bool {
	ip := net.ParseIP(peer)
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}

// IsLoopback reports whether client is a loopback address.
func IsLoopback(client string) bool {
	ip := net.ParseIP(client)
	return ip != nil && ip.IsLoopback()
}
