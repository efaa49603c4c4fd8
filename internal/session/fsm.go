// fsm.go drives the state table in spec.md §4.3: one Step per
// manager-loop iteration, each call checking the hold timer, reading at
// most one ready message and, once Established, running one round of
// keepalive/advertise work before returning control to the manager.
// Grounded on fsm/fsm.go's per-state method shape (idle/connect/
// active/openSent/openConfirm/established), collapsed into one dispatch
// function since the manager — not this package — owns the scheduling
// loop (spec.md §5).
package session

import (
	"errors"
	"net"
	"time"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"
	pkgerrors "github.com/pkg/errors"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/codec"
	"github.com/transitorykris/kbgp/internal/holdtimer"
)

// transportErr wraps a socket-level failure with a stack trace (spec.md
// §7: "github.com/pkg/errors wraps TransportError's underlying I/O error
// ... so manager-loop logs retain the failing syscall/read context"),
// grounded on c6ai-hlf-easy's use of the same library.
func transportErr(err error) TransportError {
	return TransportError{Err: pkgerrors.WithStack(err)}
}

// readTimeout bounds how long one Step call may block waiting for a
// message, so a manager loop iterating many sessions stays responsive —
// the cooperative-scheduling analogue of "every blocking operation is a
// suspension point" (spec.md §5).
const readTimeout = 20 * time.Millisecond

// Announcement is one stored update learned from a peer's UPDATE
// announcements (spec.md §4.5's "one stored update per NLRI").
type Announcement struct {
	Family ibgp.Family
	Attrs  *ibgp.PathAttrs
	NLRI   ibgp.NLRI
}

// Withdrawal is one prefix removed via UPDATE withdrawn_routes (spec.md §3
// Lifecycle).
type Withdrawal struct {
	Family ibgp.Family
	NLRI   ibgp.NLRI
}

// Learned is what Step returns when an UPDATE produced new information for
// the RIB, the session-level half of manager.SessionUpdate's
// Learned((ip, update)) variant (spec.md §4.7).
type Learned struct {
	PeerIP       net.IP
	Announcements []Announcement
	Withdrawals   []Withdrawal
}

// Step advances the FSM by one unit of work: it tries to read a ready
// message (bounded by readTimeout), dispatches it per spec.md §4.3's
// table, then — if still Established — runs one round of the advertise
// loop. A nil, nil return means the round produced no learned update for
// the RIB; a non-nil error is fatal and the caller
// (internal/manager) must tear the session down per spec.md §7's
// propagation policy.
func (s *Session) Step() (*Learned, error) {
	if s.hold != nil && s.hold.IsExpired() {
		return nil, HoldTimeExpired{IntervalSeconds: uint16(s.hold.Hold().Seconds())}
	}

	switch s.state {
	case Connect:
		return s.stepConnect()
	case Active:
		return s.stepConnect()
	case Idle:
		return nil, nil
	default:
		learned, err := s.readMessage()
		if err != nil || learned != nil {
			return learned, err
		}
		if s.state == Established {
			s.maybeSendKeepalive()
			s.advertisePending()
		}
		return nil, nil
	}
}

// stepConnect handles the Connect/Active states: a locally-initiated
// session spontaneously sends OPEN (spec.md §4.3 "Connect, local
// initiated TCP & sending side: send OPEN"); a remote-initiated session
// waits for the peer's OPEN, handled in readMessage's OpenSent-less path
// below (Connect + received OPEN => reply OPEN, transition OpenConfirm).
func (s *Session) stepConnect() (*Learned, error) {
	if s.locallyInitiated && !s.sentOpen {
		if err := s.sendOpen(); err != nil {
			return nil, transportErr(err)
		}
		s.sentOpen = true
		s.state = OpenSent
		return nil, nil
	}
	return s.readMessage()
}

func (s *Session) readMessage() (*Learned, error) {
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	msg, err := s.decode()
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		if errors.Is(err, codec.ErrShortRead) {
			return nil, transportErr(err)
		}
		return nil, CodecError{Err: err}
	}
	s.counters.IncReceived()
	if s.hold != nil {
		s.hold.MarkReceived()
	}

	switch m := msg.(type) {
	case *gobgp.BGPOpen:
		return s.handleOpen(m)
	case *gobgp.BGPKeepAlive:
		return s.handleKeepalive()
	case *gobgp.BGPUpdate:
		return s.handleUpdate(m)
	case *gobgp.BGPNotification:
		return nil, PeerNotification{Code: NotificationCode{m.ErrorCode, m.ErrorSubcode}}
	default:
		return nil, FiniteStateMachine{State: s.state}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Session) handleOpen(open *gobgp.BGPOpen) (*Learned, error) {
	switch s.state {
	case Connect, Active:
		caps, remoteAS := parseOpenCapabilities(open, open.MyAS)
		if err := s.negotiate(caps, remoteAS, open.HoldTime); err != nil {
			return nil, err
		}
		if err := s.sendOpen(); err != nil {
			return nil, transportErr(err)
		}
		s.state = OpenConfirm
		return nil, nil
	case OpenSent:
		caps, remoteAS := parseOpenCapabilities(open, open.MyAS)
		if err := s.negotiate(caps, remoteAS, open.HoldTime); err != nil {
			return nil, err
		}
		if err := s.sendKeepalive(); err != nil {
			return nil, transportErr(err)
		}
		s.state = OpenConfirm
		return nil, nil
	default:
		return nil, FiniteStateMachine{State: s.state}
	}
}

// negotiate validates the peer's ASN and computes the effective hold
// timer/capability intersection (spec.md §4.3 OPEN handling).
func (s *Session) negotiate(remoteCaps ibgp.Capabilities, remoteAS uint32, remoteHold uint16) error {
	if remoteAS != s.peer.RemoteAS {
		return OpenAsnMismatch{Received: remoteAS, Expected: s.peer.RemoteAS}
	}
	s.remoteAS = remoteAS
	s.remoteCaps = remoteCaps

	localHold := uint16(s.peer.HoldTimer.Seconds())
	hold := localHold
	if remoteHold < hold {
		hold = remoteHold
	}
	s.hold = holdtimer.New(time.Duration(hold) * time.Second)
	s.caps = ibgp.Common(s.localCaps(), remoteCaps)
	s.tracker.SetFamilies(s.caps.Families())
	return nil
}

func (s *Session) localCaps() ibgp.Capabilities {
	mp := map[ibgp.Family]bool{}
	for _, f := range s.peer.Families {
		mp[f] = true
	}
	return ibgp.Capabilities{
		MultiProtocol:   mp,
		ExtendedNextHop: map[ibgp.Family]bool{},
		AddPath:         map[ibgp.Family]ibgp.AddPathMode{},
		FourOctetASN:    true,
	}
}

func (s *Session) handleKeepalive() (*Learned, error) {
	switch s.state {
	case OpenConfirm:
		if err := s.sendKeepalive(); err != nil {
			return nil, transportErr(err)
		}
		s.state = Established
		return nil, nil
	case Established:
		// hold timer already reset by readMessage's MarkReceived; no
		// reply required unless ShouldSendKeepalive (spec.md §4.3).
		return nil, nil
	default:
		return nil, FiniteStateMachine{State: s.state}
	}
}

func (s *Session) handleUpdate(u *gobgp.BGPUpdate) (*Learned, error) {
	if s.state != Established {
		return nil, FiniteStateMachine{State: s.state}
	}
	announcements, withdrawals := parseUpdateMessage(u)
	if len(announcements) == 0 && len(withdrawals) == 0 {
		return nil, nil
	}
	return &Learned{PeerIP: s.RemoteIP(), Announcements: announcements, Withdrawals: withdrawals}, nil
}

func (s *Session) maybeSendKeepalive() {
	if s.hold.ShouldSendKeepalive() {
		_ = s.sendKeepalive()
	}
}

func (s *Session) sendOpen() error {
	msg := buildOpenMessage(s.localAS, uint16(s.peer.HoldTimer.Seconds()), s.localID, s.localCaps())
	return s.encode(msg)
}

func (s *Session) sendKeepalive() error {
	if err := s.encode(buildKeepaliveMessage()); err != nil {
		return err
	}
	s.hold.MarkSent()
	return nil
}

// SendNotification emits NOTIFICATION(code) and is called by
// internal/manager after Step returns a Notifiable error, or when the
// manager itself tears a session down for a reload/config reason (spec.md
// §4.7, §7). Failing to write is not escalated further — the connection
// is being closed regardless.
func (s *Session) SendNotification(code NotificationCode) error {
	return s.encode(buildNotificationMessage(code))
}

// encode/decode delegate the wire framing to internal/codec (spec.md
// §4.2's adapter for the external wire-codec library), keeping this
// package's own job limited to the FSM dispatch above it.
func (s *Session) encode(msg *gobgp.BGPMessage) error {
	if err := codec.Encode(s.conn, msg); err != nil {
		return err
	}
	s.counters.IncSent()
	return nil
}

func (s *Session) decode() (gobgp.BGPBody, error) {
	m, err := codec.Decode(s.reader)
	if err != nil {
		return nil, err
	}
	return m.Body, nil
}
