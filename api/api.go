// Package api defines the operator-facing read/write operations (spec.md
// §4.9, component C10): show_peers, show_peer_detail, show_routes_learned,
// show_routes_advertised, advertise_route, advertise_flow. It is a plain Go
// method set over render-ready result types; a JSON-RPC or HTTP transport
// (out of scope per spec.md's Non-goals) would sit in front of it and
// dispatch into these methods. Grounded on old/session/session.go's "named
// operations on an interface" shape.
package api

import (
	"fmt"
	"net"
	"time"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/manager"
	"github.com/transitorykris/kbgp/internal/rib"
	"github.com/transitorykris/kbgp/internal/session"

	"github.com/transitorykris/kbgp/config"
)

// PeerSummary is one row of show_peers (spec.md §4.9).
type PeerSummary struct {
	RemoteIP  net.IP
	RemoteAS  uint32
	State     string
	HoldTimer time.Duration
}

// PeerDetail is show_peer_detail's full render (spec.md §4.9), including
// the supplemented last-read/last-write instants and TCP endpoint pair
// (SPEC_FULL.md §10).
type PeerDetail struct {
	PeerSummary
	Capabilities ibgp.Capabilities
	Counters     struct{ Sent, Received uint64 }
	LastRead     time.Time
	LastWrite    time.Time
	LocalAddr    *net.TCPAddr
	RemoteAddr   *net.TCPAddr
}

// Route is one rendered RIB entry, for show_routes_learned/
// show_routes_advertised (spec.md §4.9).
type Route struct {
	Source ibgp.Source
	Family ibgp.Family
	NLRI   ibgp.NLRI
	Attrs  *ibgp.PathAttrs
}

// RouteSpec is the advertise_route RPC's payload (spec.md §6), mirrored
// from config.RouteSpec.
type RouteSpec = config.RouteSpec

// FlowSpec is the advertise_flow RPC's payload (spec.md §6), mirrored from
// config.FlowSpec.
type FlowSpec = config.FlowSpec

// ParseError is returned synchronously to the caller for a malformed
// advertise_route/advertise_flow request; it never reaches the RIB or a
// session (spec.md §7).
type ParseError struct {
	Err error
}

func (e ParseError) Error() string { return fmt.Sprintf("api: %v", e.Err) }
func (e ParseError) Unwrap() error { return e.Err }

// Server implements the operator API operations against a running
// speaker's Manager and RIB.
type Server struct {
	mgr *manager.Manager
	rib *rib.RIB
}

// New constructs a Server bound to a running speaker's manager and RIB.
func New(mgr *manager.Manager, r *rib.RIB) *Server {
	return &Server{mgr: mgr, rib: r}
}

// ShowPeers lists every currently-active session (spec.md §4.9).
func (s *Server) ShowPeers() []PeerSummary {
	sessions := s.mgr.Sessions()
	out := make([]PeerSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	return out
}

// ShowPeerDetail renders the full detail view for one active session,
// matched by remote IP (spec.md §4.9).
func (s *Server) ShowPeerDetail(remoteIP net.IP) (*PeerDetail, error) {
	sess, ok := s.mgr.Sessions()[remoteIP.String()]
	if !ok {
		return nil, fmt.Errorf("api: no active session for %s", remoteIP)
	}
	d := &PeerDetail{
		PeerSummary:  summarize(sess),
		Capabilities: sess.Capabilities(),
		LocalAddr:    sess.LocalAddr(),
		RemoteAddr:   sess.RemoteAddr(),
	}
	d.Counters.Sent = sess.Counters().Sent()
	d.Counters.Received = sess.Counters().Received()
	if ht := sess.HoldTimer(); ht != nil {
		d.LastRead = ht.LastReceived()
		d.LastWrite = ht.LastSent()
	}
	return d, nil
}

func summarize(sess *session.Session) PeerSummary {
	sum := PeerSummary{
		RemoteIP: sess.RemoteIP(),
		RemoteAS: sess.RemoteASN(),
		State:    sess.State().String(),
	}
	if ht := sess.HoldTimer(); ht != nil {
		sum.HoldTimer = ht.Hold()
	}
	return sum
}

// ShowRoutesLearned lists every RIB entry sourced from a peer, optionally
// filtered to entries whose source peer falls within filter — a single
// host (exact net.IP match) or a covering network (net.Contains), per
// SPEC_FULL.md §10's supplemented filter predicate. A nil filter returns
// every peer-sourced entry.
func (s *Server) ShowRoutesLearned(filter *net.IPNet) []Route {
	var entries []*rib.Entry
	if filter == nil {
		for _, e := range s.rib.GetRoutes() {
			if e.Source.Kind == ibgp.SourcePeer {
				entries = append(entries, e)
			}
		}
	} else {
		for _, e := range s.rib.GetRoutes() {
			if e.Source.Kind == ibgp.SourcePeer && filter.Contains(e.Source.PeerIP) {
				entries = append(entries, e)
			}
		}
	}
	return renderRoutes(entries)
}

// ShowRoutesAdvertised lists the entries already sent to one active
// session's peer (spec.md §4.9). toPeer must match an active session.
func (s *Server) ShowRoutesAdvertised(toPeer net.IP) ([]Route, error) {
	sess, ok := s.mgr.Sessions()[toPeer.String()]
	if !ok {
		return nil, fmt.Errorf("api: no active session for %s", toPeer)
	}
	return renderRoutes(sess.Tracker().Advertised()), nil
}

func renderRoutes(entries []*rib.Entry) []Route {
	out := make([]Route, 0, len(entries))
	for _, e := range entries {
		out = append(out, renderRoute(e))
	}
	return out
}

// AdvertiseRoute injects a single operator-sourced route into the RIB
// (spec.md §4.9), replacing any existing (Api, family, NLRI) entry per
// SPEC_FULL.md §9's Open Question decision, and returns the created entry
// as a render-ready record ("Write operations synchronously insert into
// the RIB with source = Api and return the created entry as a
// render-ready record", spec.md §4.9).
func (s *Server) AdvertiseRoute(spec RouteSpec) (Route, error) {
	attrs := attrsFromRouteSpec(spec)
	family := ibgp.IPv4Unicast
	if spec.Prefix.IP.To4() == nil {
		family = ibgp.IPv6Unicast
	}
	e := s.rib.InsertFromAPI(family, attrs, ibgp.PrefixNLRI(spec.Prefix))
	return renderRoute(e), nil
}

// AdvertiseFlow injects a single operator-sourced flowspec route (spec.md
// §4.9, §6): spec.Matches/Action are already-parsed strings per the flow
// grammar, converted here into the NLRI and the extended community that
// encodes the action. Returns the created entry as a render-ready record,
// same contract as AdvertiseRoute.
func (s *Server) AdvertiseFlow(spec FlowSpec) (Route, error) {
	flow := &ibgp.FlowSpec{}
	for _, m := range spec.Matches {
		match, err := ibgp.ParseFlowMatch(m)
		if err != nil {
			return Route{}, ParseError{Err: err}
		}
		flow.Matches = append(flow.Matches, match)
	}
	action, err := ibgp.ParseFlowAction(spec.Action)
	if err != nil {
		return Route{}, ParseError{Err: err}
	}

	attrs := attrsFromRouteSpec(spec.RouteSpec)
	attrs.Communities.Extended = append(attrs.Communities.Extended, action)

	family := ibgp.IPv4Flowspec
	if spec.AFI == 2 {
		family = ibgp.IPv6Flowspec
	}
	e := s.rib.InsertFromAPI(family, attrs, ibgp.FlowNLRI(flow))
	return renderRoute(e), nil
}

func renderRoute(e *rib.Entry) Route {
	return Route{Source: e.Source, Family: e.Family, NLRI: e.NLRI, Attrs: e.Attrs}
}

func attrsFromRouteSpec(spec RouteSpec) *ibgp.PathAttrs {
	origin := ibgp.OriginIGP
	if spec.Origin != nil {
		origin = *spec.Origin
	}
	return &ibgp.PathAttrs{
		NextHop:   spec.NextHop,
		Origin:    origin,
		ASPath:    spec.ASPath,
		LocalPref: spec.LocalPref,
		MED:       spec.MED,
		Communities: ibgp.CommunityList{
			Standard: append([]ibgp.Community{}, spec.Community...),
			Extended: append([]ibgp.ExtendedCommunity{}, spec.Extended...),
		},
	}
}
