package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/rib"

	"github.com/transitorykris/kbgp/config"
)

func testPeer() *config.Peer {
	_, n, _ := net.ParseCIDR("10.0.0.2/32")
	return &config.Peer{
		RemoteIP:         n,
		RemoteAS:         65001,
		HoldTimer:        90 * time.Second,
		DestPort:         179,
		Families:         []ibgp.Family{ibgp.IPv4Unicast, ibgp.IPv6Unicast},
		AdvertiseSources: []ibgp.SourceKind{ibgp.SourceAPI, ibgp.SourceConfig},
	}
}

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	s := New(server, testPeer(), 65000, net.ParseIP("192.0.2.1"), true)
	return s, client
}

func TestInitialStateIsConnect(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, Connect, s.State())
}

func TestNegotiateRejectsAsnMismatch(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.negotiate(ibgp.Capabilities{}, 65002, 90)
	require.Error(t, err)
	var mismatch OpenAsnMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, NotificationCode{3, 2}, mismatch.Notification())
}

func TestNegotiateTakesMinimumHoldTime(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.negotiate(ibgp.Capabilities{}, 65001, 30)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.hold.Hold())
}

func TestNegotiateZeroHoldDisablesDiscipline(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.negotiate(ibgp.Capabilities{}, 65001, 0))
	assert.False(t, s.hold.IsExpired())
	assert.False(t, s.hold.ShouldSendKeepalive())
}

func TestNegotiateRejectsAsnMismatchEvenWithFourOctetCapability(t *testing.T) {
	s, _ := newTestSession(t)
	// Same OPEN as scenario (a) below, but against a peer config whose
	// RemoteAS doesn't match: the 4-octet capability's ASN still has to
	// clear the mismatch check.
	err := s.negotiate(ibgp.Capabilities{FourOctetASN: true}, 4200000001, 90)
	require.Error(t, err)
	var mismatch OpenAsnMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(4200000001), mismatch.Received)
}

func TestFourOctetASNCapabilityOverridesOpenField(t *testing.T) {
	// scenario (a) (spec.md §8(a)): peer sends OPEN with peer_asn=AS-TRANS
	// and a 4-octet-ASN capability carrying the real (large) ASN; the
	// configured remote_as matches that larger value, so negotiation
	// succeeds and RemoteASN() reflects the capability, not the 2-byte
	// AS-TRANS field.
	_, n, err := net.ParseCIDR("10.0.0.2/32")
	require.NoError(t, err)
	peer := &config.Peer{
		RemoteIP:         n,
		RemoteAS:         4200000001,
		HoldTimer:        90 * time.Second,
		DestPort:         179,
		Families:         []ibgp.Family{ibgp.IPv4Unicast},
		AdvertiseSources: []ibgp.SourceKind{ibgp.SourceAPI, ibgp.SourceConfig},
	}
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	s := New(server, peer, 65000, net.ParseIP("192.0.2.1"), true)

	err = s.negotiate(ibgp.Capabilities{FourOctetASN: true}, 4200000001, 90)
	require.NoError(t, err)
	assert.Equal(t, uint32(4200000001), s.RemoteASN())
	assert.Equal(t, 90*time.Second, s.hold.Hold())
}

func TestLocalCapsIncludesConfiguredFamilies(t *testing.T) {
	s, _ := newTestSession(t)
	caps := s.localCaps()
	assert.True(t, caps.MultiProtocol[ibgp.IPv4Unicast])
	assert.True(t, caps.MultiProtocol[ibgp.IPv6Unicast])
	assert.True(t, caps.FourOctetASN)
}

func TestHoldTimerExpiryIsFatal(t *testing.T) {
	s, _ := newTestSession(t)
	// Hold times are negotiated in whole seconds, so one second is the
	// shortest hold that doesn't disable the discipline.
	s.peer.HoldTimer = time.Second
	require.NoError(t, s.negotiate(ibgp.Capabilities{}, 65001, 90))
	time.Sleep(1100 * time.Millisecond)

	_, err := s.Step()
	require.Error(t, err)
	var expired HoldTimeExpired
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, NotificationCode{4, 0}, expired.Notification())
}

func TestNegotiateNarrowsTrackerToIntersectedFamilies(t *testing.T) {
	s, _ := newTestSession(t)
	// testPeer() configures IPv4Unicast + IPv6Unicast only; the remote
	// advertises MP_BGP for IPv6Unicast too but nothing else. The session
	// must negotiate exactly the intersection, not fall back to the local
	// config alone (spec.md §8 invariant 1), and the per-session tracker
	// must be narrowed to match once negotiation settles.
	remote := ibgp.Capabilities{MultiProtocol: map[ibgp.Family]bool{
		ibgp.IPv4Unicast: true,
		ibgp.IPv6Unicast: true,
	}}
	require.NoError(t, s.negotiate(remote, 65001, 90))
	families := s.Capabilities().Families()
	assert.Len(t, families, 2)
	assert.Contains(t, families, ibgp.IPv4Unicast)
	assert.Contains(t, families, ibgp.IPv6Unicast)

	now := time.Now()
	inFamily := &rib.Entry{Timestamp: now, Family: ibgp.IPv6Unicast}
	outOfFamily := &rib.Entry{Timestamp: now.Add(time.Nanosecond), Family: ibgp.IPv4Flowspec}
	s.tracker.InsertRoutes([]*rib.Entry{inFamily, outOfFamily})
	assert.ElementsMatch(t, []*rib.Entry{inFamily}, s.tracker.Pending())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Established", Established.String())
	assert.Equal(t, "OpenConfirm", OpenConfirm.String())
}
