package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/viper"
)

// Topology is the physical layout of the appliance: one or two WAN uplinks in
// priority order and a single LAN.
type Topology struct {
	WANs []Uplink `hcl:"wan,block" mapstructure:"wan" yaml:"wan"`
	LAN  *LAN     `hcl:"lan,block" mapstructure:"lan" yaml:"lan"`
}

// Uplink is a WAN interface. Sources lists LAN hosts or subnets pinned to it.
type Uplink struct {
	Name      string   `hcl:"name,label" mapstructure:"name" yaml:"name"`
	Interface string   `hcl:"interface" mapstructure:"interface" yaml:"interface"`
	Gateway   string   `hcl:"gateway,optional" mapstructure:"gateway" yaml:"gateway,omitempty"`
	Sources   []string `hcl:"sources,optional" mapstructure:"sources" yaml:"sources,omitempty"`
}

// LAN is the routed inside network and the DHCP settings served on it.
type LAN struct {
	Interface string   `hcl:"interface" mapstructure:"interface" yaml:"interface"`
	Address   string   `hcl:"address" mapstructure:"address" yaml:"address"`
	DHCPStart string   `hcl:"dhcp_start,optional" mapstructure:"dhcp_start" yaml:"dhcp_start,omitempty"`
	DHCPEnd   string   `hcl:"dhcp_end,optional" mapstructure:"dhcp_end" yaml:"dhcp_end,omitempty"`
	DNS       []string `hcl:"dns,optional" mapstructure:"dns" yaml:"dns,omitempty"`
	Domain    string   `hcl:"domain,optional" mapstructure:"domain" yaml:"domain,omitempty"`
	LeaseTime string   `hcl:"lease_time,optional" mapstructure:"lease_time" yaml:"lease_time,omitempty"`
}

// LoadTopology reads a topology file. HCL files are decoded with hclsimple;
// YAML, JSON and TOML go through viper.
func LoadTopology(path string) (Topology, error) {
	var topo Topology

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		if err := hclsimple.DecodeFile(path, nil, &topo); err != nil {
			return Topology{}, fmt.Errorf("failed to decode topology %s: %w", path, err)
		}
	case ".yaml", ".yml", ".json", ".toml":
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Topology{}, fmt.Errorf("failed to read topology %s: %w", path, err)
		}
		if err := v.Unmarshal(&topo); err != nil {
			return Topology{}, fmt.Errorf("failed to decode topology %s: %w", path, err)
		}
	default:
		return Topology{}, fmt.Errorf("unsupported topology format %q", filepath.Ext(path))
	}

	return topo, nil
}

// DecodeTopologyHCL decodes HCL source; filename is only used in diagnostics.
func DecodeTopologyHCL(filename string, src []byte) (Topology, error) {
	var topo Topology
	if err := hclsimple.Decode(filename, src, nil, &topo); err != nil {
		return Topology{}, fmt.Errorf("failed to decode topology %s: %w", filename, err)
	}
	return topo, nil
}

// Topology returns the topology named by the topology key, or one assembled
// from the flat wan/lan keys. LAN defaults from the flat keys fill gaps left
// by the file.
func (c Config) Topology() (Topology, error) {
	var topo Topology

	if c.TopologyFile != "" {
		loaded, err := LoadTopology(c.TopologyFile)
		if err != nil {
			return Topology{}, err
		}
		topo = loaded
	} else {
		if c.WAN0 != "" {
			topo.WANs = append(topo.WANs, Uplink{Name: "wan0", Interface: c.WAN0, Gateway: c.WAN0Gateway, Sources: c.WAN0Sources})
		}
		if c.WAN1 != "" {
			topo.WANs = append(topo.WANs, Uplink{Name: "wan1", Interface: c.WAN1, Gateway: c.WAN1Gateway, Sources: c.WAN1Sources})
		}
		if c.LAN0 != "" || c.LocalIP != "" {
			topo.LAN = &LAN{
				Interface: c.LAN0,
				Address:   c.LocalIP,
				DHCPStart: c.DHCPStart,
				DHCPEnd:   c.DHCPEnd,
			}
		}
	}

	if topo.LAN != nil {
		if len(topo.LAN.DNS) == 0 {
			topo.LAN.DNS = append([]string(nil), c.DNSServers...)
		}
		if topo.LAN.Domain == "" {
			topo.LAN.Domain = c.Domain
		}
		if topo.LAN.LeaseTime == "" {
			topo.LAN.LeaseTime = c.LeaseTime
		}
	}

	for i := range topo.WANs {
		if topo.WANs[i].Name == "" {
			topo.WANs[i].Name = fmt.Sprintf("wan%d", i)
		}
	}

	return topo, nil
}
