package traffic

import (
	"context"
	"math/rand/v2"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	labelAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	labelLength   = 8
)

// dnsUnit resolves a random subdomain of one of the target domains.
// Lookup failures are expected for random names and are not reported.
type dnsUnit struct {
	domains  []string
	server   string
	timeout  time.Duration
	client   *dns.Client
	resolver *net.Resolver
}

func newDNSUnit(job Job, _ int, _ *logrus.Entry) (Unit, error) {
	u := &dnsUnit{
		domains: job.Targets,
		server:  job.DNSServer,
		timeout: job.unitTimeout(),
	}
	if u.server != "" {
		u.client = &dns.Client{Net: "udp", Timeout: u.timeout}
	} else {
		u.resolver = net.DefaultResolver
	}
	return u, nil
}

func (u *dnsUnit) Do(ctx context.Context) (string, error) {
	domain := u.domains[rand.IntN(len(u.domains))]
	name := randomLabel() + "." + dns.Fqdn(domain)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.timeout)
	defer cancel()

	if u.client != nil {
		m := new(dns.Msg)
		m.SetQuestion(name, dns.TypeA)
		u.client.ExchangeContext(ctx, m, u.server)
	} else {
		u.resolver.LookupHost(ctx, name)
	}
	return domain, nil
}

func (u *dnsUnit) Close() error { return nil }

func randomLabel() string {
	b := make([]byte, labelLength)
	for i := range b {
		b[i] = labelAlphabet[rand.IntN(len(labelAlphabet))]
	}
	return string(b)
}
