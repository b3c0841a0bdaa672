package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/foxzi/relaykeys/internal/fault"
)

// ErrNoRecord is the conclusive "name does not exist / no TXT data"
// result, as opposed to a resolver failure.
var ErrNoRecord = errors.New("no TXT record")

// Resolver performs TXT lookups. A lookup returns one string per TXT
// record with its quoted segments already concatenated. NXDOMAIN and
// empty answers map to ErrNoRecord; transport failures and server
// errors map to a retryable fault.Unavailable.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

const defaultTimeout = 5 * time.Second

// DNSResolver queries a recursive DNS server directly.
type DNSResolver struct {
	server  string
	timeout time.Duration
}

// NewDNSResolver creates a resolver against the given server
// ("host:port"). An empty server falls back to the first nameserver in
// /etc/resolv.conf.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if server == "" {
		server = systemNameserver()
	}
	return &DNSResolver{server: server, timeout: timeout}
}

func systemNameserver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return conf.Servers[0] + ":" + conf.Port
}

// LookupTXT queries TXT records for name.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, err, "dns lookup failed")
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		// continue below
	case dns.RcodeNameError:
		return nil, ErrNoRecord
	default:
		return nil, fault.Newf(fault.Unavailable, "dns lookup failed: %s", dns.RcodeToString[resp.Rcode])
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			// Long TXT records arrive split into quoted segments;
			// concatenate before any comparison.
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecord
	}
	return records, nil
}
