package probe

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/logging"
)

const (
	// DefaultDiscoveryTimeout bounds each host in the discovery sweep.
	DefaultDiscoveryTimeout = 30 * time.Second

	discoveryRetries = 1
	topPorts         = 1000

	hostStateUp   = "up"
	portStateOpen = "open"
	addrTypeMAC   = "mac"
)

// runFunc executes one nmap invocation. Tests replace it to feed canned runs.
type runFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error)

// NmapEngine implements Engine by shelling out to nmap.
type NmapEngine struct {
	discoveryTimeout time.Duration
	hostTimeout      time.Duration
	enrichers        []Enricher
	logger           *logging.Logger
	run              runFunc
}

// EngineOption configures an NmapEngine.
type EngineOption func(*NmapEngine)

// WithDiscoveryTimeout sets the per-host timeout of the discovery sweep.
func WithDiscoveryTimeout(d time.Duration) EngineOption {
	return func(e *NmapEngine) {
		if d > 0 {
			e.discoveryTimeout = d
		}
	}
}

// WithHostTimeout bounds a single Characterize call. Zero means no bound.
func WithHostTimeout(d time.Duration) EngineOption {
	return func(e *NmapEngine) { e.hostTimeout = d }
}

// WithEnrichers registers enrichers applied to hosts characterized with the
// full profile.
func WithEnrichers(enrichers ...Enricher) EngineOption {
	return func(e *NmapEngine) { e.enrichers = append(e.enrichers, enrichers...) }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *NmapEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewNmapEngine creates an engine backed by the nmap binary on PATH.
func NewNmapEngine(opts ...EngineOption) *NmapEngine {
	e := &NmapEngine{
		discoveryTimeout: DefaultDiscoveryTimeout,
		logger:           logging.Default(),
		run:              runNmap,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("probe")
	return e
}

// runNmap creates an nmap scanner with the given options and runs it.
func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := scanner.Run()
	var warns []string
	if warnings != nil {
		warns = *warnings
	}
	if err != nil {
		return nil, warns, err
	}
	return result, warns, nil
}

// Discover runs a ping sweep over targets.
func (e *NmapEngine) Discover(ctx context.Context, targets []string) ([]inventory.HostFacts, error) {
	result, warnings, err := e.run(ctx, discoveryOptions(targets, e.discoveryTimeout)...)
	if err != nil {
		return nil, discoveryError(ctx, targets, err)
	}
	e.logWarnings("discovery", warnings)

	hosts := make([]inventory.HostFacts, 0, len(result.Hosts))
	for i := range result.Hosts {
		h := &result.Hosts[i]
		if !strings.EqualFold(h.Status.State, hostStateUp) {
			continue
		}
		facts, ok := convertHost(h)
		if !ok {
			continue
		}
		hosts = append(hosts, inventory.HostFacts{
			Address:    facts.Address,
			Reachable:  true,
			MACAddress: facts.MACAddress,
			Vendor:     facts.Vendor,
			Hostname:   facts.Hostname,
			DeviceType: inventory.DeviceUnknown,
		})
	}
	return hosts, nil
}

// Characterize probes host at the depth of profile. Profiles without a
// characterization step return host unchanged.
func (e *NmapEngine) Characterize(ctx context.Context, host inventory.HostFacts, profile inventory.Profile) inventory.HostFacts {
	var opts []nmap.Option
	switch profile {
	case inventory.ProfileFull:
		opts = fullOptions(host.Address)
	case inventory.ProfilePortOnly:
		opts = portOptions(host.Address)
	default:
		return host
	}

	if e.hostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.hostTimeout)
		defer cancel()
	}

	result, warnings, err := e.run(ctx, opts...)
	if err != nil {
		e.logger.ErrorScan("Host probe failed", host.Address, err, "profile", profile)
		return inventory.FailedHost(host.Address, err)
	}
	e.logWarnings(string(profile), warnings)

	for i := range result.Hosts {
		facts, ok := convertHost(&result.Hosts[i])
		if !ok || facts.Address != host.Address {
			continue
		}
		if profile == inventory.ProfilePortOnly {
			return inventory.HostFacts{
				Address:    facts.Address,
				Reachable:  facts.Reachable,
				OpenPorts:  facts.OpenPorts,
				DeviceType: inventory.DeviceUnknown,
			}
		}
		return e.enrich(ctx, mergeDiscovered(facts, host))
	}

	e.logger.Debug("Host missing from probe output", "target", host.Address, "profile", profile)
	return inventory.HostFacts{}
}

func (e *NmapEngine) enrich(ctx context.Context, host inventory.HostFacts) inventory.HostFacts {
	for _, en := range e.enrichers {
		enriched, err := en.Enrich(ctx, host)
		if err != nil {
			e.logger.Debug("Enrichment failed",
				"enricher", en.Name(),
				"target", host.Address,
				"error", err)
			continue
		}
		host = enriched
	}
	return host
}

func (e *NmapEngine) logWarnings(stage string, warnings []string) {
	if len(warnings) > 0 {
		e.logger.Warn("nmap completed with warnings", "stage", stage, "warnings", warnings)
	}
}

// discoveryOptions builds the equivalent of -sn --max-retries 1 --host-timeout 30s.
func discoveryOptions(targets []string, hostTimeout time.Duration) []nmap.Option {
	return []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
		nmap.WithMaxRetries(discoveryRetries),
		nmap.WithHostTimeout(hostTimeout),
	}
}

// fullOptions builds the equivalent of -A -sV --script=banner --top-ports 1000.
func fullOptions(address string) []nmap.Option {
	return []nmap.Option{
		nmap.WithTargets(address),
		nmap.WithAggressiveScan(),
		nmap.WithServiceInfo(),
		nmap.WithScripts("banner"),
		nmap.WithMostCommonPorts(topPorts),
	}
}

// portOptions builds the equivalent of -T3 --top-ports 1000.
func portOptions(address string) []nmap.Option {
	return []nmap.Option{
		nmap.WithTargets(address),
		nmap.WithTimingTemplate(nmap.TimingNormal),
		nmap.WithMostCommonPorts(topPorts),
	}
}

// convertHost converts a single nmap host to HostFacts. It reports false
// when the host carries no IP address.
func convertHost(h *nmap.Host) (inventory.HostFacts, bool) {
	facts := inventory.HostFacts{
		Reachable:  strings.EqualFold(h.Status.State, hostStateUp),
		DeviceType: inventory.DeviceUnknown,
	}

	for _, addr := range h.Addresses {
		if addr.AddrType == addrTypeMAC {
			facts.MACAddress = addr.Addr
			facts.Vendor = addr.Vendor
			continue
		}
		if facts.Address == "" {
			facts.Address = addr.Addr
		}
	}
	if facts.Address == "" {
		return inventory.HostFacts{}, false
	}

	if len(h.Hostnames) > 0 {
		facts.Hostname = h.Hostnames[0].Name
	}

	for j := range h.Ports {
		p := &h.Ports[j]
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			continue
		}
		if p.State.State == portStateOpen && !facts.HasPort(int(p.ID)) {
			facts.OpenPorts = append(facts.OpenPorts, int(p.ID))
		}
	}
	sort.Ints(facts.OpenPorts)

	if len(h.OS.Matches) > 0 {
		facts.OSGuess = h.OS.Matches[0].Name
	}

	return facts, true
}

// mergeDiscovered keeps liveness facts from the discovery sweep that the
// characterization run did not report, such as the MAC seen on the local
// segment.
func mergeDiscovered(facts, discovered inventory.HostFacts) inventory.HostFacts {
	if facts.MACAddress == "" {
		facts.MACAddress = discovered.MACAddress
	}
	if facts.Vendor == "" {
		facts.Vendor = discovered.Vendor
	}
	if facts.Hostname == "" {
		facts.Hostname = discovered.Hostname
	}
	return facts
}

// discoveryError maps an nmap failure onto the error codes the orchestrator
// acts on.
func discoveryError(ctx context.Context, targets []string, err error) error {
	switch {
	case ctx.Err() != nil:
		return errors.WrapDiscoveryError(errors.CodeCanceled, "Host discovery interrupted", ctx.Err())
	case stderrors.Is(err, nmap.ErrNmapNotInstalled):
		return errors.ErrProbeUnavailable(err)
	case isPrivilegeError(err):
		return errors.ErrProbeUnavailable(err)
	default:
		return errors.ErrDiscoveryFailed(targets, err)
	}
}

func isPrivilegeError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "root privileges") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "permission denied")
}
