// Package manager owns the currently-active sessions and the Poller
// (spec.md §4.7, component C8): it drives each session's FSM step, routes
// learned updates and session-end notifications to the caller (server.go,
// C9), accepts new connections from the Poller, and applies live
// configuration diffs.
//
// Grounded on kbgp.go's Speaker/Peer relationship (the top-level object
// that owns every peer and iterates them) and taoh-gobgp's tomb.v2
// supervision idiom, adapted here to wrap the *manager's* own loop
// goroutine rather than one goroutine per session: spec.md §4.7 describes
// a single per-iteration algorithm ("for every active session: ... run
// one step"), and internal/session.Step already self-bounds its blocking
// (a short read deadline, spec.md §5's suspension-point model), so one
// real goroutine cooperatively stepping every session satisfies the
// "one logical task per session" requirement without needing one OS
// goroutine per peer.
package manager

import (
	"net"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/transitorykris/kbgp/config"
	"github.com/transitorykris/kbgp/internal/poller"
	"github.com/transitorykris/kbgp/internal/rib"
	"github.com/transitorykris/kbgp/internal/session"
)

// Learned is the session-level update the caller must absorb into the
// RIB (spec.md §4.7's SessionUpdate::Learned variant).
type Learned = session.Learned

// Result is what one Iterate call produces: updates to absorb into the
// RIB, and peers whose sessions ended (the caller must call
// rib.RemoveFromPeer for each, per spec.md §4.7's
// SessionUpdate::Ended variant).
type Result struct {
	Learned []Learned
	Ended   []net.IP
}

// Manager holds the active sessions map and the Poller (spec.md §4.7).
type Manager struct {
	t tomb.Tomb

	mu       sync.Mutex
	sessions map[string]*session.Session // keyed by RemoteIP.String()

	poller    *poller.Poller
	speakerAS uint32
	speakerID net.IP

	logf func(format string, args ...interface{})
}

// New constructs a Manager bound to poller (already pre-populated with
// peer configs by server.New, spec.md §4.8).
func New(p *poller.Poller, speakerAS uint32, speakerID net.IP, logf func(string, ...interface{})) *Manager {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Manager{
		sessions:  map[string]*session.Session{},
		poller:    p,
		speakerAS: speakerAS,
		speakerID: speakerID,
		logf:      logf,
	}
}

// Sessions returns a snapshot of the active sessions, for api's read
// views (spec.md §4.9). Safe to call concurrently with Iterate.
func (m *Manager) Sessions() map[string]*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*session.Session, len(m.sessions))
	for k, v := range m.sessions {
		out[k] = v
	}
	return out
}

// Iterate runs exactly one pass of spec.md §4.7's algorithm: step every
// active session (snapshotting its advertise-eligible RIB entries first),
// then accept at most one new connection from the Poller.
func (m *Manager) Iterate(r *rib.RIB) Result {
	var result Result

	m.mu.Lock()
	ips := make([]string, 0, len(m.sessions))
	for ip := range m.sessions {
		ips = append(ips, ip)
	}
	m.mu.Unlock()

	for _, ip := range ips {
		m.mu.Lock()
		sess, ok := m.sessions[ip]
		m.mu.Unlock()
		if !ok {
			continue
		}

		remoteIP := net.ParseIP(ip)
		sess.Tracker().InsertRoutes(r.GetRoutesForPeer(remoteIP))

		learned, err := sess.Step()
		if err != nil {
			m.endSession(remoteIP, sess, err)
			result.Ended = append(result.Ended, remoteIP)
			continue
		}
		if learned != nil {
			result.Learned = append(result.Learned, *learned)
		}
	}

	m.acceptOne()
	return result
}

// endSession sends a NOTIFICATION if the error maps to one, closes the
// connection, removes the session, and returns the peer configuration to
// the Poller as idle (spec.md §4.7, §7).
func (m *Manager) endSession(ip net.IP, sess *session.Session, err error) {
	if n, ok := err.(session.Notifiable); ok {
		if sendErr := sess.SendNotification(n.Notification()); sendErr != nil {
			m.logf("manager: failed to send NOTIFICATION to %s: %v", ip, sendErr)
		}
	}
	sess.Close()

	m.mu.Lock()
	delete(m.sessions, ip.String())
	m.mu.Unlock()

	m.logf("manager: session to %s ended: %v", ip, err)
	if _, deconfigured := err.(session.Deconfigured); !deconfigured {
		m.poller.UpsertConfig(sess.Peer())
	}
}

// acceptOne accepts at most one new connection — inbound first, then
// outbound — and constructs a Session bound to the matched configuration,
// rejecting a duplicate remote IP (spec.md §4.7).
func (m *Manager) acceptOne() {
	if in, err := m.poller.PollInbound(); err != nil {
		m.logf("manager: inbound poll error: %v", err)
	} else if in != nil {
		m.addSession(in.Conn, in.Peer, false)
		return
	}

	if out, err := m.poller.PollOutbound(); err != nil {
		m.logf("manager: outbound poll error: %v", err)
	} else if out != nil {
		m.addSession(out.Conn, out.Peer, true)
	}
}

func (m *Manager) addSession(conn net.Conn, peer *config.Peer, locallyInitiated bool) {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}
	key := remote.IP.String()

	m.mu.Lock()
	_, dup := m.sessions[key]
	m.mu.Unlock()
	if dup {
		m.logf("manager: rejecting duplicate session from %s", key)
		conn.Close()
		return
	}

	sess := session.New(conn, peer, m.speakerAS, m.speakerID, locallyInitiated)
	m.mu.Lock()
	m.sessions[key] = sess
	m.mu.Unlock()
}

// ApplyConfig reacts to a live configuration push (spec.md §4.7): sessions
// whose address no longer matches any configured network are closed with
// NOTIFICATION(6,3); sessions still matched get their *config.Peer swapped
// in place; the Poller's idle map is replaced wholesale.
func (m *Manager) ApplyConfig(peers []*config.Peer) Result {
	var result Result

	m.mu.Lock()
	ips := make([]string, 0, len(m.sessions))
	for ip := range m.sessions {
		ips = append(ips, ip)
	}
	m.mu.Unlock()

	for _, ip := range ips {
		m.mu.Lock()
		sess, ok := m.sessions[ip]
		m.mu.Unlock()
		if !ok {
			continue
		}
		remoteIP := net.ParseIP(ip)
		matched := matchPeer(peers, remoteIP)
		if matched == nil {
			m.endSession(remoteIP, sess, session.Deconfigured{})
			result.Ended = append(result.Ended, remoteIP)
			continue
		}
		sess.SetPeer(matched)
	}

	m.poller.ReplaceConfigs(peers)
	return result
}

func matchPeer(peers []*config.Peer, ip net.IP) *config.Peer {
	var best *config.Peer
	bestOnes := -1
	for _, p := range peers {
		if !p.Matches(ip) {
			continue
		}
		ones, _ := p.RemoteIP.Mask.Size()
		if ones > bestOnes {
			best = p
			bestOnes = ones
		}
	}
	return best
}

// Go runs fn under the manager's supervising tomb (spec.md §5, §9: the
// tomb.v2 idiom grounded on taoh-gobgp's use of the same library), so a
// panic or returned error from fn is captured by t.Err() and fn's own
// Dying/Wait checks compose with Stop below.
func (m *Manager) Go(fn func() error) { m.t.Go(fn) }

// Dying returns the channel the tomb closes once Stop has been called,
// the signal fn (started via Go) selects on to know to return.
func (m *Manager) Dying() <-chan struct{} { return m.t.Dying() }

// Wait blocks until the goroutine started by Go has returned, surfacing
// any error it returned (or a panic the tomb recovered).
func (m *Manager) Wait() error { return m.t.Wait() }

// Stop signals the manager's supervising tomb to die, closing Dying() so
// the goroutine started by Go can return; the caller's server loop then
// calls Wait() for an orderly shutdown.
func (m *Manager) Stop() { m.t.Kill(nil) }
