// Package server assembles a running speaker from a fully-defaulted
// config.Config (spec.md §4.8, component C9): seeds the RIB with each
// peer's static_routes/static_flows, builds the listening socket, a
// pre-populated Poller, and a Manager, then drives the manager loop.
// Grounded on cmd/main.go's kbgp.New/router.Peer/router.Speak() sequence,
// generalized to take a *config.Config instead of literal constructor
// args, and on stigt-gobgp/taoh-gobgp's per-peer logrus usage for the
// loop's diagnostic logging.
package server

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/manager"
	"github.com/transitorykris/kbgp/internal/poller"
	"github.com/transitorykris/kbgp/internal/rib"

	"github.com/transitorykris/kbgp/config"
)

// idleSleep bounds how long Run sleeps between manager iterations when
// nothing happened, so the loop doesn't spin a CPU core (spec.md §5's
// cooperative scheduling model applied at the outermost loop).
const idleSleep = 10 * time.Millisecond

// Server owns the listener, RIB, Poller and Manager that together make up
// one running speaker (spec.md §3 "Speaker-level state").
type Server struct {
	log      *logrus.Entry
	listener net.Listener
	rib      *rib.RIB
	mgr      *manager.Manager
}

// New builds a Server from cfg (already defaulted by config.New): seeds
// the RIB with every peer's static routes/flows (source=Config, spec.md
// §4.8), opens the listening socket, and constructs the Poller
// pre-populated with cfg.Peers plus the Manager bound to it.
func New(cfg *config.Config) (*Server, error) {
	log := logrus.WithField("component", "server")

	listener, err := net.Listen("tcp", cfg.BGPSocket)
	if err != nil {
		return nil, err
	}

	r := rib.New()
	seedConfigRoutes(r, cfg)

	p := poller.New(listener, cfg.Peers, cfg.PollInterval, func(format string, args ...interface{}) {
		log.Infof(format, args...)
	})
	mgr := manager.New(p, cfg.DefaultAS, cfg.RouterID, func(format string, args ...interface{}) {
		log.Infof(format, args...)
	})

	return &Server{log: log, listener: listener, rib: r, mgr: mgr}, nil
}

// seedConfigRoutes inserts every peer's static_routes/static_flows into
// the RIB as Config-sourced entries (spec.md §4.8), done once at startup
// and again after ApplyConfig on a reload.
func seedConfigRoutes(r *rib.RIB, cfg *config.Config) {
	for _, peer := range cfg.Peers {
		for _, rs := range peer.StaticRoutes {
			attrs := routeSpecAttrs(rs)
			family := ibgp.IPv4Unicast
			if rs.Prefix.IP.To4() == nil {
				family = ibgp.IPv6Unicast
			}
			r.InsertFromConfig(family, attrs, ibgp.PrefixNLRI(rs.Prefix))
		}
		for _, fs := range peer.StaticFlows {
			flow, action, err := flowSpecNLRI(fs)
			if err != nil {
				continue
			}
			attrs := routeSpecAttrs(fs.RouteSpec)
			attrs.Communities.Extended = append(attrs.Communities.Extended, action)
			family := ibgp.IPv4Flowspec
			if fs.AFI == 2 {
				family = ibgp.IPv6Flowspec
			}
			r.InsertFromConfig(family, attrs, ibgp.FlowNLRI(flow))
		}
	}
}

func routeSpecAttrs(rs config.RouteSpec) *ibgp.PathAttrs {
	origin := ibgp.OriginIGP
	if rs.Origin != nil {
		origin = *rs.Origin
	}
	return &ibgp.PathAttrs{
		NextHop:   rs.NextHop,
		Origin:    origin,
		ASPath:    rs.ASPath,
		LocalPref: rs.LocalPref,
		MED:       rs.MED,
		Communities: ibgp.CommunityList{
			Standard: append([]ibgp.Community{}, rs.Community...),
			Extended: append([]ibgp.ExtendedCommunity{}, rs.Extended...),
		},
	}
}

func flowSpecNLRI(fs config.FlowSpec) (*ibgp.FlowSpec, ibgp.ExtendedCommunity, error) {
	flow := &ibgp.FlowSpec{}
	for _, m := range fs.Matches {
		match, err := ibgp.ParseFlowMatch(m)
		if err != nil {
			return nil, ibgp.ExtendedCommunity{}, err
		}
		flow.Matches = append(flow.Matches, match)
	}
	action, err := ibgp.ParseFlowAction(fs.Action)
	if err != nil {
		return nil, ibgp.ExtendedCommunity{}, err
	}
	return flow, action, nil
}

// RIB exposes the running RIB, for api.New and tests.
func (s *Server) RIB() *rib.RIB { return s.rib }

// Manager exposes the running Manager, for api.New.
func (s *Server) Manager() *manager.Manager { return s.mgr }

// Run drives the manager loop until stop is closed (spec.md §4.7/§4.8):
// each iteration steps every active session, absorbs Learned updates and
// Ended removals into the RIB, and sleeps briefly when nothing happened.
// The loop itself runs under the manager's supervising tomb (spec.md §5,
// §9's tomb.v2 idiom) via mgr.Go, so stop and a tomb-initiated death both
// flow through the same mgr.Stop()/mgr.Wait() shutdown path. Grounded on
// cmd/main.go's "go router.Speak()" background-loop idiom.
func (s *Server) Run(stop <-chan struct{}) {
	s.log.Info("speaker loop starting")

	s.mgr.Go(func() error {
		for {
			select {
			case <-s.mgr.Dying():
				return nil
			default:
			}

			result := s.mgr.Iterate(s.rib)
			if len(result.Learned) == 0 && len(result.Ended) == 0 {
				time.Sleep(idleSleep)
				continue
			}
			for _, learned := range result.Learned {
				s.absorb(learned)
			}
			for _, ip := range result.Ended {
				s.rib.RemoveFromPeer(ip)
			}
		}
	})

	select {
	case <-stop:
	case <-s.mgr.Dying():
	}
	s.mgr.Stop()
	if err := s.mgr.Wait(); err != nil {
		s.log.Warnf("speaker loop exited with error: %v", err)
	}
	s.log.Info("speaker loop stopping")
}

func (s *Server) absorb(learned manager.Learned) {
	for _, a := range learned.Announcements {
		s.rib.InsertFromPeer(learned.PeerIP, a.Family, a.Attrs, a.NLRI)
	}
	for _, w := range learned.Withdrawals {
		s.rib.RemovePeerNLRI(learned.PeerIP, w.Family, w.NLRI)
	}
}

// ApplyConfig reacts to a live configuration push (spec.md §4.7, §4.8):
// closes sessions whose address no longer matches any configured network,
// swaps the peer reference for those still matched, replaces the
// Poller's idle map, and re-seeds the RIB's Config-sourced entries.
func (s *Server) ApplyConfig(cfg *config.Config) {
	result := s.mgr.ApplyConfig(cfg.Peers)
	for _, ip := range result.Ended {
		s.rib.RemoveFromPeer(ip)
	}
	s.rib.RemoveAllConfig()
	seedConfigRoutes(s.rib, cfg)
}

// Close releases the listening socket.
func (s *Server) Close() error { return s.listener.Close() }
