// Package poller multiplexes inbound TCP accepts and interval-driven
// outbound connects across every configured peer (spec.md §4.6, component
// C7). Grounded on queue/queue.go's mutex-protected pending-work idea
// (replaced here by github.com/eapache/channels.RingChannel, per
// stigt-gobgp's import of that package) for the outbound retry schedule,
// and radix/radix.go's "find the covering network for an IP" concept for
// matching an inbound connection's source address to a configured peer
// network — this module's idle-peer count is small enough that a direct
// longest-prefix-match scan over the idle map serves the same contract
// radix.go's trie does, without needing its edge-splitting machinery.
package poller

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/eapache/channels"
	"golang.org/x/sys/unix"

	"github.com/transitorykris/kbgp/config"
)

// dialTimeout bounds an outbound connect attempt (spec.md §4.6/§5: "~1s").
const dialTimeout = 1 * time.Second

// acceptPollTimeout bounds one Accept call so the manager loop driving
// this Poller stays responsive to the outbound and config paths (spec.md
// §4.6/§5).
const acceptPollTimeout = 50 * time.Millisecond

// Inbound is one freshly-accepted connection matched to a peer config.
type Inbound struct {
	Conn net.Conn
	Peer *config.Peer
}

// Outbound is one freshly-dialed connection for a locally-initiated
// session.
type Outbound struct {
	Conn net.Conn
	Peer *config.Peer
}

// Poller owns the idle-peer registry and the listening socket (spec.md
// §4.6). Accessed only from the manager loop per spec.md §5 — no external
// mutation of idle/pending once constructed, aside from Upsert/Replace on
// config reload.
type Poller struct {
	mu   sync.Mutex
	idle map[string]*config.Peer // keyed by Peer.RemoteIP.String()

	listener net.Listener
	ready    *channels.RingChannel // carries string(ip) when an outbound retry fires
	interval time.Duration

	logf func(format string, args ...interface{})
}

// New constructs a Poller bound to listener, pre-populated with peers
// (spec.md §4.8: "the Poller (pre-populated with peer configs)"). logf
// receives diagnostic lines ("no match for inbound connection from ...",
// "matched peer disabled") — nil uses a no-op logger.
func New(listener net.Listener, peers []*config.Peer, interval time.Duration, logf func(string, ...interface{})) *Poller {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	p := &Poller{
		idle:     map[string]*config.Peer{},
		listener: listener,
		ready:    channels.NewRingChannel(256),
		interval: interval,
		logf:     logf,
	}
	for _, peer := range peers {
		p.UpsertConfig(peer)
	}
	return p
}

// UpsertConfig inserts or replaces one peer's idle-map entry and, if it's
// a single host that is enabled and not passive, schedules its first
// outbound attempt (spec.md §4.6).
func (p *Poller) UpsertConfig(peer *config.Peer) {
	p.mu.Lock()
	p.idle[peer.RemoteIP.String()] = peer
	p.mu.Unlock()
	if peer.IsHost() && peer.Enabled && !peer.Passive {
		p.scheduleOutbound(peer.RemoteIP.IP, 0)
	}
}

// ReplaceConfigs replaces the idle map wholesale, used on a live config
// reload (spec.md §4.6). Host peers that are enabled and non-passive get
// a fresh outbound attempt scheduled.
func (p *Poller) ReplaceConfigs(peers []*config.Peer) {
	p.mu.Lock()
	p.idle = map[string]*config.Peer{}
	for _, peer := range peers {
		p.idle[peer.RemoteIP.String()] = peer
	}
	p.mu.Unlock()
	for _, peer := range peers {
		if peer.IsHost() && peer.Enabled && !peer.Passive {
			p.scheduleOutbound(peer.RemoteIP.IP, 0)
		}
	}
}

func (p *Poller) scheduleOutbound(ip net.IP, after time.Duration) {
	host := ip.String()
	time.AfterFunc(after, func() {
		p.ready.In() <- host
	})
}

// matchIdle finds the idle-peer entry whose network contains ip, picking
// the most specific (longest-prefix) match when more than one network
// contains it (spec.md §4.6).
func (p *Poller) matchIdle(ip net.IP) *config.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *config.Peer
	bestOnes := -1
	for _, peer := range p.idle {
		if !peer.Matches(ip) {
			continue
		}
		ones, _ := peer.RemoteIP.Mask.Size()
		if ones > bestOnes {
			best = peer
			bestOnes = ones
		}
	}
	return best
}

// removeIdle drops a single-host entry from the idle map after a match;
// covering-network entries are retained so additional distinct source IPs
// can still connect (spec.md §4.6, §9 Open Question 3).
func (p *Poller) removeIdle(peer *config.Peer) {
	if !peer.IsHost() {
		return
	}
	p.mu.Lock()
	delete(p.idle, peer.RemoteIP.String())
	p.mu.Unlock()
}

// PollInbound accepts at most one pending connection, bounded by
// acceptPollTimeout so the caller's loop stays responsive (spec.md §4.6/§5).
// Returns (nil, nil) if nothing was waiting, or if the connection didn't
// match any configured/enabled peer (logged and dropped).
func (p *Poller) PollInbound() (*Inbound, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if dl, ok := p.listener.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(acceptPollTimeout))
	}
	conn, err := p.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("poller: non-TCP remote address %v", conn.RemoteAddr())
	}
	peer := p.matchIdle(remote.IP)
	if peer == nil {
		p.logf("poller: no configured peer matches inbound connection from %s", remote.IP)
		conn.Close()
		return nil, nil
	}
	if !peer.Enabled {
		p.logf("poller: peer %s is disabled, dropping inbound connection", remote.IP)
		conn.Close()
		return nil, nil
	}
	p.removeIdle(peer)
	return &Inbound{Conn: conn, Peer: peer}, nil
}

// PollOutbound checks whether any scheduled outbound retry has fired and,
// if so, dials it. Returns (nil, nil) if nothing fired this round. A
// disabled or now-passive peer is silently skipped (its idle entry stays,
// awaiting re-enable via a future reload). A dial failure re-enqueues the
// peer after p.interval and returns (nil, nil) too.
func (p *Poller) PollOutbound() (*Outbound, error) {
	var host string
	select {
	case v := <-p.ready.Out():
		host = v.(string)
	default:
		return nil, nil
	}

	ip := net.ParseIP(host)
	p.mu.Lock()
	peer := p.idle[ip.String()]
	p.mu.Unlock()
	if peer == nil || !peer.Enabled || peer.Passive {
		return nil, nil
	}

	conn, err := p.dialWithSourceReuse(ip, peer.DestPort)
	if err != nil {
		p.logf("poller: outbound connect to %s failed: %v, retrying in %s", ip, err, p.interval)
		p.scheduleOutbound(ip, p.interval)
		return nil, nil
	}
	return &Outbound{Conn: conn, Peer: peer}, nil
}

// dialWithSourceReuse opens a TCP connection bound to the speaker's own
// listening address (with SO_REUSEADDR) and connects with a 1-second
// timeout, per spec.md §4.6 ("construct a TCP socket bound to the
// configured source address (with SO_REUSEADDR) and connect ... with a
// 1-second timeout"). Grounded on original_source/src/session/poller.rs's
// `IdlePeer::connect`, which binds the outbound socket to
// `tcp_listener.local_addr()` (port 0) with `reuse_address(true)` before
// dialing — the source address here is the speaker's own bind address,
// not a per-peer configured value, since spec.md §6 names no such field.
func (p *Poller) dialWithSourceReuse(ip net.IP, port uint16) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout, Control: reuseAddrControl}
	if local, ok := p.listener.Addr().(*net.TCPAddr); ok && !local.IP.IsUnspecified() {
		d.LocalAddr = &net.TCPAddr{IP: local.IP}
	}
	return d.Dial("tcp", fmt.Sprintf("%s:%d", ip.String(), port))
}

// reuseAddrControl sets SO_REUSEADDR on the outbound socket before it
// binds, so a fast reconnect to the same peer doesn't collide with a
// not-yet-recycled TIME_WAIT socket bound to the same source address
// (spec.md §4.6).
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
