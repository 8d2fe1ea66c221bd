// Package inventory holds the data model shared by the probe engine, the
// classifier and the scan orchestrator: scan profiles, device types and the
// per-host facts record written to the result artifact.
package inventory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Profile selects probe depth and concurrency strategy for a scan.
type Profile string

const (
	ProfileQuick         Profile = "quick"
	ProfileFull          Profile = "full"
	ProfilePortOnly      Profile = "port"
	ProfileOSDetect      Profile = "os"
	ProfileVulnerability Profile = "vulnerability"
)

// Profiles lists every accepted profile name in the order shown to users.
var Profiles = []Profile{
	ProfileQuick,
	ProfileFull,
	ProfilePortOnly,
	ProfileOSDetect,
	ProfileVulnerability,
}

// ParseProfile maps a user supplied name to a Profile.
func ParseProfile(name string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Profiles {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown scan profile %q (valid: %s)", name, ProfileNames())
}

// ProfileNames returns the accepted profile names as a comma separated list.
func ProfileNames() string {
	names := make([]string, len(Profiles))
	for i, p := range Profiles {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// Implemented reports whether the profile runs real probes. The os and
// vulnerability profiles are placeholders that complete with no hosts.
func (p Profile) Implemented() bool {
	switch p {
	case ProfileQuick, ProfileFull, ProfilePortOnly:
		return true
	default:
		return false
	}
}

// DeviceType is the inferred role of a host.
type DeviceType string

const (
	DeviceRouter      DeviceType = "Router"
	DeviceSwitch      DeviceType = "Switch"
	DeviceFirewall    DeviceType = "Firewall"
	DeviceServer      DeviceType = "Server"
	DeviceWorkstation DeviceType = "Workstation"
	DeviceUnknown     DeviceType = "Unknown"
)

// Host status strings used in the result artifact.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusError   = "error"
)

// HostFacts is the observed and inferred record for a single host. A value
// is built once per host per scan and is not modified afterwards.
type HostFacts struct {
	Address    string     `json:"ipAddress"`
	Reachable  bool       `json:"reachable"`
	MACAddress string     `json:"macAddress,omitempty"`
	Hostname   string     `json:"hostname,omitempty"`
	Vendor     string     `json:"vendor,omitempty"`
	OpenPorts  []int      `json:"openPorts,omitempty"`
	OSGuess    string     `json:"osGuess,omitempty"`
	DeviceType DeviceType `json:"deviceType"`
	ProbeError string     `json:"error,omitempty"`
}

// FailedHost builds the error branch of a per-host probe: the address is
// kept, every observed field is left empty and the failure becomes data.
func FailedHost(address string, err error) HostFacts {
	msg := "unknown probe error"
	if err != nil {
		msg = err.Error()
	}
	return HostFacts{
		Address:    address,
		DeviceType: DeviceUnknown,
		ProbeError: msg,
	}
}

// Failed reports whether the probe for this host failed.
func (h HostFacts) Failed() bool {
	return h.ProbeError != ""
}

// Status returns the online/offline/error label used by the result artifact.
func (h HostFacts) Status() string {
	switch {
	case h.Failed():
		return StatusError
	case h.Reachable:
		return StatusOnline
	default:
		return StatusOffline
	}
}

// HasPort reports whether port is in the open port set.
func (h HostFacts) HasPort(port int) bool {
	for _, p := range h.OpenPorts {
		if p == port {
			return true
		}
	}
	return false
}

// WithDeviceType returns a copy of h carrying the given device type.
func (h HostFacts) WithDeviceType(t DeviceType) HostFacts {
	h.OpenPorts = append([]int(nil), h.OpenPorts...)
	h.DeviceType = t
	return h
}

// MarshalJSON adds the derived status field so consumers of the original
// result format keep working.
func (h HostFacts) MarshalJSON() ([]byte, error) {
	type plain HostFacts
	ports := append([]int(nil), h.OpenPorts...)
	sort.Ints(ports)
	p := plain(h)
	p.OpenPorts = ports
	if p.DeviceType == "" {
		p.DeviceType = DeviceUnknown
	}
	return json.Marshal(struct {
		plain
		Status string `json:"status"`
	}{plain: p, Status: h.Status()})
}

// Missing reports whether the record is empty, which is how a probe engine
// signals that the host vanished between discovery and characterization.
func (h HostFacts) Missing() bool {
	return h.Address == ""
}
