package tunnel

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
)

// EgressConfig supplies the dial/resolve/fetch capabilities a Session needs
// to act as the egress peer. A Session with a nil EgressConfig only ever
// plays the initiator role: inbound *_CONNECT/BIND/QUERY/REQUEST frames on
// such a session are answered with ERROR.
type EgressConfig struct {
	// Dialer opens outbound TCP connections for TCP_CONNECT. Defaults to
	// net.Dialer with ConnectTimeout.
	Dialer *net.Dialer

	// Nameservers lists the host:port nameservers queried via miekg/dns for
	// every DNS_QUERY record type, tried in order. Defaults to the system
	// resolver's configured nameservers read from /etc/resolv.conf.
	Nameservers []string

	// HTTPClient performs outbound HTTP_REQUEST fetches. Defaults to a
	// client with HTTPFetchTimeoutEgress and redirect-following disabled
	// (the initiator sees redirects as ordinary responses).
	HTTPClient *http.Client

	// AllowUDP gates whether UDP_BIND is honored at all; some egress
	// deployments may wish to disable UDP relaying entirely.
	AllowUDP bool
}

func (e *EgressConfig) dialer() *net.Dialer {
	if e.Dialer != nil {
		return e.Dialer
	}
	return &net.Dialer{Timeout: ConnectTimeout}
}

func (e *EgressConfig) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{
		Timeout: HTTPFetchTimeoutEgress,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// dnsQueryTypeToRR maps the wire RecordType enum (§4.2) to the RR type
// queried via miekg/dns. ANAME has no wire-level RR type of its own; it is
// a CNAME-flattening convention, so it is resolved as CNAME.
var dnsQueryTypeToRR = map[byte]uint16{
	0: dns.TypeA,
	1: dns.TypeAAAA,
	2: dns.TypeCNAME,
	3: dns.TypeCNAME,
	4: dns.TypeNS,
	5: dns.TypePTR,
}

// resolve performs one DNS_QUERY via miekg/dns against the configured
// nameservers, returning the textual address list a DNS_RESPONSE carries.
func (e *EgressConfig) resolve(ctx context.Context, name string, rrtype uint16) ([]string, error) {
	nameservers := e.Nameservers
	if len(nameservers) == 0 {
		conf, _ := dns.ClientConfigFromFile("/etc/resolv.conf")
		if conf != nil {
			for _, s := range conf.Servers {
				nameservers = append(nameservers, net.JoinHostPort(s, conf.Port))
			}
		}
	}
	if len(nameservers) == 0 {
		nameservers = []string{"127.0.0.1:53"}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), rrtype)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = DNSQueryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	var lastErr error
	for _, ns := range nameservers {
		resp, _, err := c.ExchangeContext(ctx, m, ns)
		if err != nil {
			lastErr = err
			continue
		}
		return extractAddresses(resp, rrtype), nil
	}
	return nil, lastErr
}

func extractAddresses(resp *dns.Msg, rrtype uint16) []string {
	var out []string
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, v.A.String())
		case *dns.AAAA:
			out = append(out, v.AAAA.String())
		case *dns.CNAME:
			out = append(out, v.Target)
		case *dns.NS:
			out = append(out, v.Ns)
		case *dns.PTR:
			out = append(out, v.Ptr)
		}
	}
	return out
}
