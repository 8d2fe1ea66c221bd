package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/anstrom/netinventory/internal/inventory"
)

const (
	defaultResolvConf = "/etc/resolv.conf"
	defaultDNSTimeout = 2 * time.Second

	snmpPort           = 161
	sysDescrOID        = "1.3.6.1.2.1.1.1.0"
	defaultSNMPTimeout = 2 * time.Second
)

// DNSResolver fills in a missing hostname with a reverse PTR lookup.
type DNSResolver struct {
	server  string
	client  *dns.Client
	confErr error
}

// NewDNSResolver creates a resolver querying server (host:port). An empty
// server uses the first nameserver from /etc/resolv.conf.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	r := &DNSResolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}
	if r.server == "" {
		conf, err := dns.ClientConfigFromFile(defaultResolvConf)
		switch {
		case err != nil:
			r.confErr = err
		case len(conf.Servers) == 0:
			r.confErr = fmt.Errorf("no nameservers in %s", defaultResolvConf)
		default:
			r.server = net.JoinHostPort(conf.Servers[0], conf.Port)
		}
	}
	return r
}

// Name implements Enricher.
func (r *DNSResolver) Name() string { return "dns" }

// Enrich implements Enricher.
func (r *DNSResolver) Enrich(ctx context.Context, host inventory.HostFacts) (inventory.HostFacts, error) {
	if host.Hostname != "" || host.Failed() {
		return host, nil
	}
	name, err := r.LookupPTR(ctx, host.Address)
	if err != nil {
		return host, err
	}
	host.Hostname = name
	return host, nil
}

// LookupPTR returns the first PTR name for address, without the trailing dot.
// It returns "" and no error when the address has no PTR record.
func (r *DNSResolver) LookupPTR(ctx context.Context, address string) (string, error) {
	if r.confErr != nil {
		return "", fmt.Errorf("dns resolver unavailable: %w", r.confErr)
	}

	arpa, err := dns.ReverseAddr(address)
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", address, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("ptr query for %s: %w", address, err)
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return "", fmt.Errorf("ptr query for %s: %s", address, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}

// SNMPProber reads sysDescr from hosts with port 161 open and uses it as the
// OS guess when nmap did not produce one.
type SNMPProber struct {
	Community string
	Port      uint16
	Timeout   time.Duration

	// connect builds the session; tests replace it.
	connect func(ctx context.Context, target string) (snmpSession, error)
}

type snmpSession interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// NewSNMPProber creates a prober using SNMP v2c with community.
func NewSNMPProber(community string, timeout time.Duration) *SNMPProber {
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}
	p := &SNMPProber{
		Community: community,
		Port:      snmpPort,
		Timeout:   timeout,
	}
	p.connect = p.dial
	return p
}

// Name implements Enricher.
func (p *SNMPProber) Name() string { return "snmp" }

// Enrich implements Enricher.
func (p *SNMPProber) Enrich(ctx context.Context, host inventory.HostFacts) (inventory.HostFacts, error) {
	if host.OSGuess != "" || host.Failed() || !host.HasPort(snmpPort) {
		return host, nil
	}
	descr, err := p.SysDescr(ctx, host.Address)
	if err != nil {
		return host, err
	}
	host.OSGuess = descr
	return host, nil
}

// SysDescr returns the sysDescr.0 value reported by target.
func (p *SNMPProber) SysDescr(ctx context.Context, target string) (string, error) {
	sess, err := p.connect(ctx, target)
	if err != nil {
		return "", fmt.Errorf("snmp connect %s: %w", target, err)
	}
	defer sess.Close()

	pkt, err := sess.Get([]string{sysDescrOID})
	if err != nil {
		return "", fmt.Errorf("snmp get %s: %w", target, err)
	}

	for _, v := range pkt.Variables {
		switch v.Type {
		case gosnmp.OctetString:
			if b, ok := v.Value.([]byte); ok {
				return strings.TrimSpace(string(b)), nil
			}
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.Null:
			return "", nil
		}
	}
	return "", nil
}

type goSNMPSession struct {
	*gosnmp.GoSNMP
}

func (s goSNMPSession) Close() error {
	return s.Conn.Close()
}

func (p *SNMPProber) dial(ctx context.Context, target string) (snmpSession, error) {
	g := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target,
		Port:      p.Port,
		Community: p.Community,
		Version:   gosnmp.Version2c,
		Timeout:   p.Timeout,
		Retries:   1,
	}
	if err := g.Connect(); err != nil {
		return nil, err
	}
	return goSNMPSession{GoSNMP: g}, nil
}
