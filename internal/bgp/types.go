// Package bgp holds the pure data model shared across the speaker: address
// families, origins, AS paths, communities and the path-attribute bundle a
// RIB entry carries. None of this talks to a socket or a wire format —
// that's internal/codec's job, wrapping github.com/osrg/gobgp/v3/pkg/packet/bgp.
package bgp

import (
	"fmt"
	"net"
)

// AFI/SAFI pairs select the kind of route a Family represents. Values match
// the IANA assignments used on the wire (RFC 4760), so internal/codec can
// convert a Family to gobgp's AFI/SAFI constants without a lookup table.
type Family struct {
	AFI  uint16
	SAFI uint8
}

func (f Family) String() string {
	switch f {
	case IPv4Unicast:
		return "ipv4-unicast"
	case IPv6Unicast:
		return "ipv6-unicast"
	case IPv4Flowspec:
		return "ipv4-flowspec"
	case IPv6Flowspec:
		return "ipv6-flowspec"
	default:
		return fmt.Sprintf("afi=%d/safi=%d", f.AFI, f.SAFI)
	}
}

const (
	afiIPv4 uint16 = 1
	afiIPv6 uint16 = 2

	safiUnicast  uint8 = 1
	safiFlowspec uint8 = 133
)

var (
	IPv4Unicast  = Family{AFI: afiIPv4, SAFI: safiUnicast}
	IPv6Unicast  = Family{AFI: afiIPv6, SAFI: safiUnicast}
	IPv4Flowspec = Family{AFI: afiIPv4, SAFI: safiFlowspec}
	IPv6Flowspec = Family{AFI: afiIPv6, SAFI: safiFlowspec}
)

// DefaultFamilies is the family set a peer negotiates when config.Peer
// doesn't name one explicitly (spec §6: "families (default IPv4/IPv6 x
// Unicast/Flowspec)").
func DefaultFamilies() []Family {
	return []Family{IPv4Unicast, IPv6Unicast, IPv4Flowspec, IPv6Flowspec}
}

// SourceKind discriminates where a RIB entry came from.
type SourceKind int

const (
	SourceAPI SourceKind = iota
	SourceConfig
	SourcePeer
)

func (k SourceKind) String() string {
	switch k {
	case SourceAPI:
		return "api"
	case SourceConfig:
		return "config"
	case SourcePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Source is the provenance of a RIB entry. PeerIP is only meaningful when
// Kind == SourcePeer.
type Source struct {
	Kind   SourceKind
	PeerIP net.IP
}

func APISource() Source             { return Source{Kind: SourceAPI} }
func ConfigSource() Source          { return Source{Kind: SourceConfig} }
func PeerSource(ip net.IP) Source   { return Source{Kind: SourcePeer, PeerIP: ip} }
func (s Source) IsPeer(ip net.IP) bool {
	return s.Kind == SourcePeer && s.PeerIP.Equal(ip)
}

func (s Source) String() string {
	if s.Kind == SourcePeer {
		return fmt.Sprintf("peer(%s)", s.PeerIP)
	}
	return s.Kind.String()
}

// Origin is the well-known ORIGIN path attribute value.
type Origin uint8

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginIncomplete
)

func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "IGP"
	case OriginEGP:
		return "EGP"
	default:
		return "INCOMPLETE"
	}
}
