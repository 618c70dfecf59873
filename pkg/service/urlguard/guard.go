package urlguard

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/utils/metrics"
	"golang.org/x/net/idna"
)

// Resolver resolves a host to all of its addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata":                 {},
	"169.254.169.254":          {},
}

var privateNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"127.0.0.0/8",
		"0.0.0.0/8",
		"169.254.0.0/16",
		"192.168.0.0/16",
		"172.16.0.0/12",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid private CIDR " + cidr + ": " + err.Error())
		}
		privateNets = append(privateNets, n)
	}
}

// IsPrivateIP reports whether ip is loopback, private, link-local or unique-local.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Guard validates URLs against the SSRF policy
type Guard struct {
	resolver   Resolver
	dnsTimeout time.Duration
}

type Option func(*Guard)

// WithResolver replaces the DNS resolver
func WithResolver(r Resolver) Option {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithDNSTimeout sets the resolution timeout
func WithDNSTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.dnsTimeout = d
	}
}

// New creates a Guard using the system resolver and a 1.5s DNS timeout
func New(opts ...Option) *Guard {
	g := &Guard{
		resolver:   net.DefaultResolver,
		dnsTimeout: 1500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func notAllowed(reason string, values ...goerr.Option) error {
	metrics.ObserveBlocked(strings.ReplaceAll(reason, " ", "_"))
	return goerr.Wrap(model.NewIngestError(model.CodeURLNotAllowed, reason), "url rejected by guard", values...)
}

// AssertAllowed validates rawURL and returns it parsed. Rules apply in order:
// https only, no credentials, port 443 only, IDNA-normalized host blocklist,
// then literal IP or every resolved address must be public.
func (g *Guard) AssertAllowed(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, notAllowed("invalid url", goerr.V("url", rawURL))
	}
	if u.Scheme != "https" {
		return nil, notAllowed("only https is allowed", goerr.V("url", rawURL))
	}
	if u.User != nil {
		return nil, notAllowed("credentials in url", goerr.V("host", u.Hostname()))
	}
	if port := u.Port(); port != "" && port != "443" {
		return nil, notAllowed("port not allowed", goerr.V("port", port))
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, notAllowed("missing host", goerr.V("url", rawURL))
	}
	// unicode hosts are compared and resolved in their punycode form
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, notAllowed("invalid host", goerr.V("host", host))
		}
		host = strings.TrimSuffix(strings.ToLower(ascii), ".")
	}
	if _, ok := blockedHosts[host]; ok {
		return nil, notAllowed("host is blocked", goerr.V("host", host))
	}
	if strings.HasSuffix(host, ".local") {
		return nil, notAllowed("local domain", goerr.V("host", host))
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return nil, notAllowed("private address", goerr.V("ip", ip.String()))
		}
		return u, nil
	}

	if _, err := g.Resolve(ctx, host); err != nil {
		return nil, err
	}
	return u, nil
}

// Resolve looks up every address of host and fails if any is private
func (g *Guard) Resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	dnsCtx, cancel := context.WithTimeout(ctx, g.dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.Is(dnsCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &dnsErr) && dnsErr.IsTimeout) {
			return nil, goerr.Wrap(model.NewIngestError(model.CodeDNSTimeout, host), "dns lookup timed out", goerr.V("host", host))
		}
		return nil, notAllowed("host could not be resolved", goerr.V("host", host), goerr.V("cause", err.Error()))
	}
	if len(addrs) == 0 {
		return nil, notAllowed("host could not be resolved", goerr.V("host", host))
	}

	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return nil, notAllowed("resolves to private address", goerr.V("host", host), goerr.V("ip", a.IP.String()))
		}
	}
	return addrs, nil
}
