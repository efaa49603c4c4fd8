// Package config holds the Go shapes a TOML loader (an external
// collaborator per spec.md §1) populates, plus the defaulting logic spec.md
// §6 names. No TOML parsing happens here — server.New takes an already-
// defaulted *Config and builds the running speaker from it.
package config

import (
	"net"
	"time"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
)

// DefaultPollInterval is the Poller's outbound-reconnect interval applied
// when a TOML document omits poll_interval (spec.md §6).
const DefaultPollInterval = 30 * time.Second

// DefaultHoldTimer is the per-peer hold timer applied when a peer config
// omits hold_timer (spec.md §6).
const DefaultHoldTimer = 180 * time.Second

// DefaultDestPort is the BGP TCP port applied when a peer config omits
// dest_port (spec.md §6).
const DefaultDestPort uint16 = 179

// Config is the top-level speaker configuration (spec.md §6).
type Config struct {
	RouterID     net.IP
	DefaultAS    uint32
	BGPSocket    string
	APISocket    string
	PollInterval time.Duration
	Peers        []*Peer
}

// RouteSpec mirrors the advertise_route RPC's RouteSpec (spec.md §6),
// reused for a peer's static_routes.
type RouteSpec struct {
	Prefix    *net.IPNet
	NextHop   net.IP
	Origin    *ibgp.Origin
	ASPath    ibgp.ASPath
	LocalPref *uint32
	MED       *uint32
	Community []ibgp.Community
	Extended  []ibgp.ExtendedCommunity
}

// FlowSpec mirrors the advertise_flow RPC's FlowSpec (spec.md §6), reused
// for a peer's static_flows.
type FlowSpec struct {
	AFI     uint16 // 1 = IPv4, 2 = IPv6 per spec.md §6
	Action  string
	Matches []string
	RouteSpec
}

// Peer is one entry in config.Peers, keyed by RemoteIP (spec.md §3): a
// single host or a covering network.
type Peer struct {
	RemoteIP         *net.IPNet
	RemoteAS         uint32
	LocalAS          uint32 // 0 => inherit Config.DefaultAS
	LocalRouterID    net.IP // nil => inherit Config.RouterID
	Enabled          bool
	Passive          bool
	HoldTimer        time.Duration
	DestPort         uint16
	Families         []ibgp.Family
	AdvertiseSources []ibgp.SourceKind
	StaticRoutes     []RouteSpec
	StaticFlows      []FlowSpec
}

// EffectiveLocalAS resolves LocalAS against the speaker-wide default
// (spec.md §3: "local ASN (defaults to a server-wide value)").
func (p *Peer) EffectiveLocalAS(speakerDefault uint32) uint32 {
	if p.LocalAS != 0 {
		return p.LocalAS
	}
	return speakerDefault
}

// EffectiveRouterID resolves LocalRouterID against the speaker-wide
// default (spec.md §3: "local router-id (defaults to server-wide)").
func (p *Peer) EffectiveRouterID(speakerDefault net.IP) net.IP {
	if p.LocalRouterID != nil {
		return p.LocalRouterID
	}
	return speakerDefault
}

// Matches reports whether ip falls within this peer's configured network.
func (p *Peer) Matches(ip net.IP) bool {
	return p.RemoteIP != nil && p.RemoteIP.Contains(ip)
}

// IsHost reports whether RemoteIP names exactly one address (a /32 or
// /128), the distinction the Poller's idle map uses to decide whether to
// retain an entry after a match (spec.md §4.6, §9 Open Question 3).
func (p *Peer) IsHost() bool {
	if p.RemoteIP == nil {
		return false
	}
	ones, bits := p.RemoteIP.Mask.Size()
	return ones == bits
}

// AdvertiseSourceAllowed reports whether entries with the given source
// kind are eligible to be advertised to this peer (spec.md §3
// advertise_sources).
func (p *Peer) AdvertiseSourceAllowed(kind ibgp.SourceKind) bool {
	for _, s := range p.AdvertiseSources {
		if s == kind {
			return true
		}
	}
	return false
}

// DefaultPeer fills in a Peer's zero-valued fields with spec.md §6's
// documented defaults. Callers (a TOML loader) apply this after
// unmarshaling and before handing peers to server.New.
func DefaultPeer(p *Peer) *Peer {
	if p.HoldTimer == 0 {
		p.HoldTimer = DefaultHoldTimer
	}
	if p.DestPort == 0 {
		p.DestPort = DefaultDestPort
	}
	if len(p.Families) == 0 {
		p.Families = ibgp.DefaultFamilies()
	}
	if len(p.AdvertiseSources) == 0 {
		p.AdvertiseSources = []ibgp.SourceKind{ibgp.SourceAPI, ibgp.SourceConfig}
	}
	return p
}

// New applies DefaultPeer to every peer and PollInterval's default,
// producing the fully-defaulted Config that server.New expects
// (SPEC_FULL.md §6). Enabled's "default true" (spec.md §6) is a TOML-tag
// default (`toml:"enabled" default:"true"`) applied by the loader itself,
// the standard idiom for a bool that defaults to non-zero — it isn't
// repeated here since this package never sees the raw document, only the
// already-unmarshaled struct.
func New(c *Config) *Config {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	for i, p := range c.Peers {
		c.Peers[i] = DefaultPeer(p)
	}
	return c
}
