// Package classify infers a device role from the facts a probe observed.
package classify

import (
	"strings"

	"github.com/anstrom/netinventory/internal/inventory"
)

// Well-known ports used by the port fallback rules.
const (
	PortBGP   = 179
	PortSNMP  = 161
	PortRDP   = 3389
	PortHTTP  = 80
	PortHTTPS = 443
)

var (
	routerVendors   = []string{"cisco", "juniper", "arista"}
	switchVendors   = []string{"switch"}
	firewallVendors = []string{"firewall", "fortinet"}

	serverOS = []string{"server", "windows server", "linux"}
	routerOS = []string{"router", "ios", "nx-os"}
	switchOS = []string{"switch", "catos"}
)

type stringRule struct {
	tokens []string
	device inventory.DeviceType
}

type portRule struct {
	ports  []int
	device inventory.DeviceType
}

// The order of these tables is the tie-break: vendor rules beat OS rules,
// OS rules beat port rules, and within each table the first match wins.
var (
	vendorRules = []stringRule{
		{routerVendors, inventory.DeviceRouter},
		{switchVendors, inventory.DeviceSwitch},
		{firewallVendors, inventory.DeviceFirewall},
	}
	osRules = []stringRule{
		{serverOS, inventory.DeviceServer},
		{routerOS, inventory.DeviceRouter},
		{switchOS, inventory.DeviceSwitch},
	}
	portRules = []portRule{
		{[]int{PortBGP}, inventory.DeviceRouter},
		{[]int{PortSNMP}, inventory.DeviceSwitch},
		{[]int{PortRDP}, inventory.DeviceWorkstation},
		{[]int{PortHTTP, PortHTTPS}, inventory.DeviceServer},
	}
)

// Classify maps an OS guess, vendor string and open port set to a device
// type. Empty strings never match. The function does no I/O.
func Classify(osGuess, vendor string, openPorts []int) inventory.DeviceType {
	if t, ok := matchString(vendorRules, vendor); ok {
		return t
	}
	if t, ok := matchString(osRules, osGuess); ok {
		return t
	}
	if len(openPorts) > 0 {
		open := make(map[int]struct{}, len(openPorts))
		for _, p := range openPorts {
			open[p] = struct{}{}
		}
		for _, rule := range portRules {
			for _, p := range rule.ports {
				if _, ok := open[p]; ok {
					return rule.device
				}
			}
		}
	}
	return inventory.DeviceUnknown
}

// Host classifies h and returns a copy carrying the inferred device type.
func Host(h inventory.HostFacts) inventory.HostFacts {
	return h.WithDeviceType(Classify(h.OSGuess, h.Vendor, h.OpenPorts))
}

func matchString(rules []stringRule, value string) (inventory.DeviceType, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}
	for _, rule := range rules {
		for _, token := range rule.tokens {
			if strings.Contains(value, token) {
				return rule.device, true
			}
		}
	}
	return "", false
}
