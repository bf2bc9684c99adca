package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// Config is the top-level server configuration, the JSON shape produced
// by the management plane.
type Config struct {
	RenewTimer        uint32        `json:"renew-timer"`
	RebindTimer       uint32        `json:"rebind-timer"`
	PreferredLifetime uint32        `json:"preferred-lifetime"`
	ValidLifetime     uint32        `json:"valid-lifetime"`
	Interfaces        InterfaceList `json:"interface"`
	Subnets           []SubnetJSON  `json:"subnet6"`
}

// InterfaceList accepts either a JSON list of interface names or the
// literal string "all".
type InterfaceList struct {
	All   bool
	Names []string
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *InterfaceList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "all" || one == "*" {
			l.All = true
			return nil
		}
		l.Names = []string{one}
		return nil
	}
	return json.Unmarshal(data, &l.Names)
}

// SubnetJSON is one subnet6 list entry.
type SubnetJSON struct {
	Subnet      string           `json:"subnet"`
	Pool        string           `json:"pool"`
	Interface   string           `json:"interface,omitempty"`
	InterfaceID string           `json:"interface-id,omitempty"`
	OptionData  []OptionDataJSON `json:"option-data,omitempty"`
}

// OptionDataJSON is one configured option value for a subnet.
type OptionDataJSON struct {
	Name      string `json:"name"`
	Space     string `json:"space"`
	Code      uint16 `json:"code"`
	Data      string `json:"data"`
	CSVFormat bool   `json:"csv-format"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration JSON.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// BuildSubnets converts the parsed configuration into registry subnets.
// Every subnet takes the global timers; subnet6 entries carry none of
// their own.
func (c *Config) BuildSubnets() ([]*Subnet, error) {
	subnets := make([]*Subnet, 0, len(c.Subnets))
	for i, sj := range c.Subnets {
		subnet, err := sj.build(c)
		if err != nil {
			return nil, fmt.Errorf("subnet6[%d]: %w", i, err)
		}
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

func (sj *SubnetJSON) build(c *Config) (*Subnet, error) {
	_, prefix, err := net.ParseCIDR(sj.Subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", sj.Subnet, err)
	}

	subnet, err := NewSubnet(prefix, c.RenewTimer, c.RebindTimer, c.PreferredLifetime, c.ValidLifetime)
	if err != nil {
		return nil, err
	}
	subnet.Interface = sj.Interface
	if sj.InterfaceID != "" {
		subnet.InterfaceID = []byte(sj.InterfaceID)
	}

	if sj.Pool != "" {
		pool, err := parsePool(sj.Pool)
		if err != nil {
			return nil, err
		}
		if err := subnet.AddPool(pool); err != nil {
			return nil, err
		}
	}

	for _, od := range sj.OptionData {
		opt, err := od.build()
		if err != nil {
			return nil, err
		}
		subnet.Options = append(subnet.Options, opt)
	}

	return subnet, nil
}

// parsePool accepts either CIDR notation or a "first - last" range.
func parsePool(s string) (Pool, error) {
	if strings.Contains(s, "-") {
		bounds := strings.SplitN(s, "-", 2)
		first := net.ParseIP(strings.TrimSpace(bounds[0]))
		last := net.ParseIP(strings.TrimSpace(bounds[1]))
		if first == nil || last == nil {
			return Pool{}, fmt.Errorf("invalid pool range %q", s)
		}
		return NewPool(first, last)
	}

	_, prefix, err := net.ParseCIDR(s)
	if err != nil {
		return Pool{}, fmt.Errorf("invalid pool %q: %w", s, err)
	}
	return NewPoolFromPrefix(prefix)
}

func (od *OptionDataJSON) build() (dhcp6.Option, error) {
	if od.CSVFormat {
		// Comma-separated IPv6 addresses, the common case for
		// dns-servers, sntp-servers and friends.
		var ips []net.IP
		for _, field := range strings.Split(od.Data, ",") {
			ip := net.ParseIP(strings.TrimSpace(field))
			if ip == nil || ip.To4() != nil {
				return dhcp6.Option{}, fmt.Errorf("option %q: invalid IPv6 address %q", od.Name, field)
			}
			ips = append(ips, ip)
		}
		data := make([]byte, 0, 16*len(ips))
		for _, ip := range ips {
			data = append(data, ip.To16()...)
		}
		return dhcp6.Option{Code: od.Code, Data: data}, nil
	}

	cleaned := strings.ReplaceAll(strings.ReplaceAll(od.Data, ":", ""), " ", "")
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return dhcp6.Option{}, fmt.Errorf("option %q: invalid hex data: %w", od.Name, err)
	}
	return dhcp6.Option{Code: od.Code, Data: data}, nil
}
