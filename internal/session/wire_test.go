package session

import (
	"bufio"
	"net"
	"testing"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/codec"
)

// scenario (e): an eBGP announcement prepends the local ASN onto AS_PATH
// before it hits the wire (spec.md §4.3 UPDATE construction).
func TestBuildUpdateMessagePrependsLocalASForEBGP(t *testing.T) {
	_, prefix, err := net.ParseCIDR("203.0.113.0/24")
	require.NoError(t, err)
	attrs := &ibgp.PathAttrs{
		NextHop: net.ParseIP("192.0.2.1"),
		Origin:  ibgp.OriginIGP,
		ASPath:  ibgp.ASPath{{Kind: ibgp.SegmentSequence, ASNs: []uint32{65002}}},
	}

	msg, err := buildUpdateMessage(ibgp.IPv4Unicast, attrs, ibgp.PrefixNLRI(prefix), 65000, 65001)
	require.NoError(t, err)

	update := msg.Body.(*gobgp.BGPUpdate)
	announcements, _ := parseUpdateMessage(update)
	require.Len(t, announcements, 1)
	assert.Equal(t, "65000 65002", announcements[0].Attrs.ASPath.String())
}

// iBGP (same AS both sides) must not prepend.
func TestBuildUpdateMessageDoesNotPrependForIBGP(t *testing.T) {
	_, prefix, err := net.ParseCIDR("203.0.113.0/24")
	require.NoError(t, err)
	attrs := &ibgp.PathAttrs{
		NextHop: net.ParseIP("192.0.2.1"),
		Origin:  ibgp.OriginIGP,
		ASPath:  ibgp.ASPath{{Kind: ibgp.SegmentSequence, ASNs: []uint32{65002}}},
	}

	msg, err := buildUpdateMessage(ibgp.IPv4Unicast, attrs, ibgp.PrefixNLRI(prefix), 65000, 65000)
	require.NoError(t, err)

	update := msg.Body.(*gobgp.BGPUpdate)
	announcements, _ := parseUpdateMessage(update)
	require.Len(t, announcements, 1)
	assert.Equal(t, "65002", announcements[0].Attrs.ASPath.String())
}

// scenario (d): an IPv6 unicast announcement round-trips through
// MP_REACH_NLRI, since IPv6 has no legacy NLRI field to ride in.
func TestBuildAndParseUpdateMessageIPv6RoundTrips(t *testing.T) {
	_, prefix, err := net.ParseCIDR("2001:db8::/32")
	require.NoError(t, err)
	attrs := &ibgp.PathAttrs{
		NextHop: net.ParseIP("2001:db8::1"),
		Origin:  ibgp.OriginIGP,
		ASPath:  ibgp.ASPath{{Kind: ibgp.SegmentSequence, ASNs: []uint32{65001}}},
	}

	msg, err := buildUpdateMessage(ibgp.IPv6Unicast, attrs, ibgp.PrefixNLRI(prefix), 65000, 65001)
	require.NoError(t, err)

	update := msg.Body.(*gobgp.BGPUpdate)
	announcements, withdrawals := parseUpdateMessage(update)
	require.Empty(t, withdrawals)
	require.Len(t, announcements, 1)
	assert.Equal(t, ibgp.IPv6Unicast, announcements[0].Family)
	assert.Equal(t, "2001:db8::/32", announcements[0].NLRI.Prefix.String())
}

// scenario (f): a flowspec redirect round-trips through a full encode then
// decode over an actual connection, exercising internal/codec end to end.
func TestFlowspecRedirectRoundTripsOverWire(t *testing.T) {
	destMatch, err := ibgp.ParseFlowMatch("destination 198.51.100.0/24")
	require.NoError(t, err)
	action, err := ibgp.ParseFlowAction("redirect 65000:302")
	require.NoError(t, err)

	flow := &ibgp.FlowSpec{Matches: []ibgp.FlowMatch{destMatch}}
	attrs := &ibgp.PathAttrs{
		Origin:      ibgp.OriginIGP,
		Communities: ibgp.CommunityList{Extended: []ibgp.ExtendedCommunity{action}},
	}

	msg, err := buildUpdateMessage(ibgp.IPv4Flowspec, attrs, ibgp.FlowNLRI(flow), 65000, 65000)
	require.NoError(t, err)

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	encodeErr := make(chan error, 1)
	go func() { encodeErr <- codec.Encode(client, msg) }()

	decoded, err := codec.Decode(bufio.NewReader(server))
	require.NoError(t, err)
	require.NoError(t, <-encodeErr)

	update, ok := decoded.Body.(*gobgp.BGPUpdate)
	require.True(t, ok)
	wantBytes := action.Bytes()
	var foundRedirect bool
	for _, attr := range update.PathAttributes {
		if ext, ok := attr.(*gobgp.PathAttributeExtendedCommunities); ok {
			for _, v := range ext.Value {
				var got [8]byte
				copy(got[:], v.Serialize())
				if got == wantBytes {
					foundRedirect = true
				}
			}
		}
	}
	assert.True(t, foundRedirect, "expected the redirect extended community to survive the wire round trip")
}
