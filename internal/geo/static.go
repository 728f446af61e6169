package geo

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticProvider serves geography from a bundled YAML dataset of CIDR
// blocks. It stands in for a MaxMind database in development and tests.
type StaticProvider struct {
	blocks []staticBlock
}

type staticBlock struct {
	prefix netip.Prefix
	loc    Location
}

type staticEntry struct {
	CIDR    string `yaml:"cidr"`
	Country string `yaml:"country"`
	Region  string `yaml:"region"`
	City    string `yaml:"city"`
	ISP     string `yaml:"isp"`
}

func LoadStatic(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geo dataset: %w", err)
	}
	var entries []staticEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse geo dataset: %w", err)
	}
	return newStatic(entries)
}

func newStatic(entries []staticEntry) (*StaticProvider, error) {
	p := &StaticProvider{}
	for _, e := range entries {
		prefix, err := netip.ParsePrefix(e.CIDR)
		if err != nil {
			return nil, fmt.Errorf("geo dataset cidr %q: %w", e.CIDR, err)
		}
		p.blocks = append(p.blocks, staticBlock{
			prefix: prefix,
			loc:    Location{Country: e.Country, Region: e.Region, City: e.City, ISP: e.ISP},
		})
	}
	return p, nil
}

// StaticFromMap builds a provider from cidr -> location pairs. Test helper.
func StaticFromMap(m map[string]Location) *StaticProvider {
	p := &StaticProvider{}
	for cidr, loc := range m {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		p.blocks = append(p.blocks, staticBlock{prefix: prefix, loc: loc})
	}
	return p
}

func (p *StaticProvider) Lookup(ip netip.Addr) (Location, error) {
	for _, b := range p.blocks {
		if b.prefix.Contains(ip) {
			return b.loc, nil
		}
	}
	return Unknown, fmt.Errorf("no block for %s", ip)
}
