package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DefaultQueryName is resolved when no name is configured.
const DefaultQueryName = "localhost"

// DNSProber checks that a resolver answers queries.
type DNSProber struct {
	// Name is the name queried for an A record.
	Name    string
	Timeout time.Duration
	Net     string

	client *dns.Client
}

// NewDNSProber constructs a prober using UDP.
func NewDNSProber(timeout time.Duration) *DNSProber {
	return &DNSProber{
		Name:    DefaultQueryName,
		Timeout: timeout,
		Net:     "udp",
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Probe sends one A query to server. Any well-formed reply counts as
// success, including NXDOMAIN; SERVFAIL and REFUSED do not.
func (p *DNSProber) Probe(ctx context.Context, server string) (time.Duration, error) {
	addr := server
	if _, _, err := net.SplitHostPort(server); err != nil {
		addr = net.JoinHostPort(server, "53")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.Name), dns.TypeA)
	msg.RecursionDesired = true

	client := p.client
	if client == nil {
		client = &dns.Client{Net: p.Net, Timeout: p.Timeout}
	}

	resp, rtt, err := client.ExchangeContext(ctx, msg, addr)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", addr, err)
	}
	if resp == nil {
		return 0, errors.New("empty response from " + addr)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return rtt, nil
	default:
		return rtt, fmt.Errorf("resolver %s answered %s", addr, dns.RcodeToString[resp.Rcode])
	}
}

// ProbeAny returns nil as soon as one server answers.
func (p *DNSProber) ProbeAny(ctx context.Context, servers []string) error {
	if len(servers) == 0 {
		return errors.New("no dns servers to probe")
	}
	var errs []error
	for _, s := range servers {
		if _, err := p.Probe(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}
