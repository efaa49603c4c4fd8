// Package session implements the per-peer BGP-4 finite state machine
// (spec.md §4.3, component C6): OPEN negotiation, capability intersection,
// KEEPALIVE/hold-timer discipline, UPDATE exchange, and NOTIFICATION
// emission, over a framed TCP stream. By far the largest package in this
// module, matching its 30% share of spec.md §2's component table.
//
// Grounded on fsm/fsm.go's per-state method shape, but restructured as one
// Step per manager-loop iteration instead of a channel-driven internal
// loop: spec.md §5 places the suspension points at the manager level (one
// cooperative task per session), so Step does one unit of work — read if
// data is ready, advertise pending routes, check the hold timer — and
// returns rather than blocking on an internal select.
package session

import (
	"bufio"
	"net"
	"time"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/holdtimer"
	"github.com/transitorykris/kbgp/internal/routes"

	"github.com/transitorykris/kbgp/config"
)

// State is one of the six FSM states named in spec.md §4.3. Unlike RFC
// 4271's full eight-state machine (which also has Idle and Connect as
// distinct pre-TCP states with back-off timers), this module collapses
// "no active TCP attempt yet" into Idle and "TCP attempt/accept in
// progress" into Connect/Active exactly as spec.md's table lists them —
// ConnectRetryTimer/DampPeerOscillations and friends are the Poller's job
// (spec.md §4.6), not this FSM's.
type State int

const (
	// Connect is the initial state on construction (spec.md §4.3).
	Connect State = iota
	Active
	Idle
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case Idle:
		return "Idle"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// Session is one currently-connected remote endpoint's FSM plus
// bookkeeping (spec.md §3 Session state).
type Session struct {
	state   State
	conn    net.Conn
	reader  *bufio.Reader
	peer    *config.Peer
	localAS uint32
	localID net.IP

	caps       ibgp.Capabilities
	remoteCaps ibgp.Capabilities
	remoteAS   uint32

	hold     *holdtimer.Timer
	counters holdtimer.Counters
	tracker  *routes.Tracker

	connectedAt time.Time

	// locallyInitiated is true iff this session's remote TCP port equals
	// the configured dest_port, meaning the local side dialed out
	// (spec.md §4.3 "Locality of initiation").
	locallyInitiated bool

	sentOpen bool
}

// New constructs a Session in the Connect state for a TCP connection
// already accepted or dialed by the Poller/Manager (spec.md §4.3, §4.7).
// locallyInitiated must be computed by the caller per spec.md §4.3's
// definition (remote port == peer.DestPort).
func New(conn net.Conn, peer *config.Peer, speakerAS uint32, speakerID net.IP, locallyInitiated bool) *Session {
	return &Session{
		state:            Connect,
		conn:             conn,
		reader:           bufio.NewReader(conn),
		peer:             peer,
		localAS:          peer.EffectiveLocalAS(speakerAS),
		localID:          peer.EffectiveRouterID(speakerID),
		connectedAt:      time.Now(),
		locallyInitiated: locallyInitiated,
		tracker:          routes.New(peer.Families),
	}
}

// State returns the session's current FSM state.
func (s *Session) State() State { return s.state }

// Peer returns the configuration this session is currently bound to.
func (s *Session) Peer() *config.Peer { return s.peer }

// SetPeer swaps the peer configuration reference, used by the manager on
// a live config reload for sessions that are still matched (spec.md
// §4.7). The swap happens between Step calls, never mid-message, per
// spec.md §5's "Peer configuration ... sessions receive new references at
// configured update points (not mid-message)".
func (s *Session) SetPeer(p *config.Peer) { s.peer = p }

// RemoteIP is the connected peer's address, used as the sessions map key
// (spec.md §3).
func (s *Session) RemoteIP() net.IP {
	if a, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP
	}
	return nil
}

// RemoteAddr/LocalAddr surface the TCP endpoint pair for api.PeerDetail
// (SPEC_FULL.md §10 supplemented feature).
func (s *Session) RemoteAddr() *net.TCPAddr { a, _ := s.conn.RemoteAddr().(*net.TCPAddr); return a }
func (s *Session) LocalAddr() *net.TCPAddr  { a, _ := s.conn.LocalAddr().(*net.TCPAddr); return a }

// Capabilities returns the negotiated capability intersection (spec.md §3).
func (s *Session) Capabilities() ibgp.Capabilities { return s.caps }

// RemoteASN returns the peer's negotiated ASN (from the 4-octet
// capability if present, else the 2-byte OPEN field), used by scenario
// (a)'s show peer_detail.remote_asn assertion.
func (s *Session) RemoteASN() uint32 { return s.remoteAS }

// HoldTimer exposes the negotiated hold timer for api.PeerDetail's hold
// timer view (spec.md §4.9).
func (s *Session) HoldTimer() *holdtimer.Timer { return s.hold }

// Counters exposes the sent/received message counts (C2).
func (s *Session) Counters() *holdtimer.Counters { return &s.counters }

// ConnectedAt is the connect timestamp (spec.md §3).
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Tracker exposes the per-session route view (C5) so the manager can feed
// it a fresh RIB snapshot each iteration (spec.md §4.7).
func (s *Session) Tracker() *routes.Tracker { return s.tracker }

// Close releases the underlying TCP connection. Called by the manager
// after a fatal Step error, once any NOTIFICATION has been sent.
func (s *Session) Close() error { return s.conn.Close() }
