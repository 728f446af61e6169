package geo

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider reads geography from a local MaxMind City database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMindProvider, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open maxmind db: %w", err)
	}
	return &MaxMindProvider{reader: r}, nil
}

func (p *MaxMindProvider) Lookup(ip netip.Addr) (Location, error) {
	rec, err := p.reader.City(net.IP(ip.AsSlice()))
	if err != nil {
		return Unknown, fmt.Errorf("maxmind city lookup: %w", err)
	}

	loc := Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	// The city database carries no ISP data; an ISP/ASN database would
	// be a second reader. Left blank rather than guessed.
	return loc, nil
}

func (p *MaxMindProvider) Close() error { return p.reader.Close() }
