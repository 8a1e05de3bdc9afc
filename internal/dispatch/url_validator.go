package dispatch

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// Callback destinations are merchant-supplied, so every URL is treated as
// hostile until proven otherwise. The checks below close the usual SSRF
// doors: loopback and private ranges, link-local, and the numeric hostname
// encodings (0x7f000001, 2130706433) that smuggle an IP past a string
// blocklist.

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::1":       {},
}

var (
	hexHostPattern     = regexp.MustCompile(`^0x[0-9a-f]+$`)
	numericHostPattern = regexp.MustCompile(`^\d+$`)
)

// sensitivePorts are never valid callback destinations regardless of host
var sensitivePorts = map[int]struct{}{
	22: {}, 23: {}, 25: {}, 110: {}, 143: {},
	993: {}, 995: {}, 3306: {}, 5432: {}, 6379: {}, 27017: {},
}

// ValidateCallbackURL checks that a merchant callback URL is a safe,
// well-formed http/https destination. It returns the parsed URL or a
// CALLBACK_URL_INVALID error describing the first failed check.
func ValidateCallbackURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.ErrCallbackURLInvalid.WithDetail("reason", "empty URL")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, domain.ErrCallbackURLInvalid.WithDetail("reason", "malformed URL")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, domain.ErrCallbackURLInvalid.
			WithDetail("reason", "unsupported scheme").
			WithDetail("scheme", parsed.Scheme)
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return nil, domain.ErrCallbackURLInvalid.WithDetail("reason", "missing host")
	}
	if _, blocked := blockedHosts[hostname]; blocked {
		return nil, domain.ErrCallbackURLInvalid.
			WithDetail("reason", "blocked host").
			WithDetail("host", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsLoopback() || ip.IsUnspecified() || ip.IsPrivate() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return nil, domain.ErrCallbackURLInvalid.
				WithDetail("reason", "private or loopback address").
				WithDetail("host", hostname)
		}
	} else if hexHostPattern.MatchString(hostname) || numericHostPattern.MatchString(hostname) {
		// A bare-integer hostname is an IP in disguise.
		return nil, domain.ErrCallbackURLInvalid.
			WithDetail("reason", "numeric IP form").
			WithDetail("host", hostname)
	}

	port := 80
	if parsed.Scheme == "https" {
		port = 443
	}
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, domain.ErrCallbackURLInvalid.WithDetail("reason", "invalid port")
		}
	}
	if _, sensitive := sensitivePorts[port]; sensitive {
		return nil, domain.ErrCallbackURLInvalid.
			WithDetail("reason", "sensitive port").
			WithDetail("port", port)
	}

	return parsed, nil
}
