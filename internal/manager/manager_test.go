package manager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitorykris/kbgp/config"
	"github.com/transitorykris/kbgp/internal/poller"
	"github.com/transitorykris/kbgp/internal/rib"
)

func networkPeer(t *testing.T, cidr string) *config.Peer {
	t.Helper()
	_, n, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	return &config.Peer{RemoteIP: n, Enabled: true, Passive: true, DestPort: 179, HoldTimer: 90 * time.Second}
}

func dialLoopback(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAcceptOneRejectsDuplicateRemoteIP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().String()

	peer := networkPeer(t, "127.0.0.1/32")
	p := poller.New(l, []*config.Peer{peer}, time.Second, nil)
	m := New(p, 65000, net.ParseIP("192.0.2.1"), nil)
	r := rib.New()

	dialLoopback(t, addr)
	require.Eventually(t, func() bool {
		m.Iterate(r)
		return len(m.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := dialLoopback(t, addr)
	for i := 0; i < 5; i++ {
		m.Iterate(r)
	}
	assert.Len(t, m.Sessions(), 1, "duplicate remote IP must not create a second session")

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, readErr := second.Read(buf)
	assert.Error(t, readErr, "the duplicate connection should have been closed")
}

func TestApplyConfigClosesUnmatchedSession(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().String()

	peer := networkPeer(t, "127.0.0.1/32")
	p := poller.New(l, []*config.Peer{peer}, time.Second, nil)
	m := New(p, 65000, net.ParseIP("192.0.2.1"), nil)
	r := rib.New()

	dialLoopback(t, addr)
	require.Eventually(t, func() bool {
		m.Iterate(r)
		return len(m.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	result := m.ApplyConfig(nil)
	assert.Empty(t, m.Sessions())
	require.Len(t, result.Ended, 1)
	assert.Equal(t, "127.0.0.1", result.Ended[0].String())
}

func TestApplyConfigSwapsPeerForMatchedSession(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	addr := l.Addr().String()

	peer := networkPeer(t, "127.0.0.1/32")
	p := poller.New(l, []*config.Peer{peer}, time.Second, nil)
	m := New(p, 65000, net.ParseIP("192.0.2.1"), nil)
	r := rib.New()

	dialLoopback(t, addr)
	require.Eventually(t, func() bool {
		m.Iterate(r)
		return len(m.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	newPeer := networkPeer(t, "127.0.0.1/32")
	newPeer.RemoteAS = 65055
	result := m.ApplyConfig([]*config.Peer{newPeer})
	assert.Empty(t, result.Ended)

	sess := m.Sessions()["127.0.0.1"]
	require.NotNil(t, sess)
	assert.Same(t, newPeer, sess.Peer())
}
