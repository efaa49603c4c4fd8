package rib

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
)

func prefix(t *testing.T, s string) ibgp.NLRI {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return ibgp.PrefixNLRI(n)
}

func TestInsertFromPeerAndRemoveFromPeer(t *testing.T) {
	r := New()
	peer := net.ParseIP("10.0.0.2")
	r.InsertFromPeer(peer, ibgp.IPv4Unicast, &ibgp.PathAttrs{Origin: ibgp.OriginIGP}, prefix(t, "192.0.2.0/24"))
	assert.Len(t, r.GetRoutesFromPeer(peer), 1)

	r.RemoveFromPeer(peer)
	assert.Empty(t, r.GetRoutesFromPeer(peer))
	assert.Empty(t, r.GetRoutes())
}

func TestGetRoutesForPeerExcludesItsOwnSource(t *testing.T) {
	r := New()
	peerA := net.ParseIP("10.0.0.2")
	peerB := net.ParseIP("10.0.0.3")
	r.InsertFromPeer(peerA, ibgp.IPv4Unicast, &ibgp.PathAttrs{}, prefix(t, "192.0.2.0/24"))
	r.InsertFromConfig(ibgp.IPv4Unicast, &ibgp.PathAttrs{}, prefix(t, "198.51.100.0/24"))

	forB := r.GetRoutesForPeer(peerB)
	assert.Len(t, forB, 2)

	forA := r.GetRoutesForPeer(peerA)
	assert.Len(t, forA, 1)
	assert.Equal(t, ibgp.SourceConfig, forA[0].Source.Kind)
}

func TestAttrsDeduplicatedByValue(t *testing.T) {
	r := New()
	a := &ibgp.PathAttrs{Origin: ibgp.OriginIGP}
	b := &ibgp.PathAttrs{Origin: ibgp.OriginIGP}
	e1 := r.InsertFromConfig(ibgp.IPv4Unicast, a, prefix(t, "192.0.2.0/24"))
	e2 := r.InsertFromConfig(ibgp.IPv4Unicast, b, prefix(t, "198.51.100.0/24"))
	assert.Same(t, e1.Attrs, e2.Attrs)
}

func TestInsertFromAPIIsIdempotentReplace(t *testing.T) {
	r := New()
	nlri := prefix(t, "192.0.2.0/24")
	r.InsertFromAPI(ibgp.IPv4Unicast, &ibgp.PathAttrs{Origin: ibgp.OriginIGP}, nlri)
	e2 := r.InsertFromAPI(ibgp.IPv4Unicast, &ibgp.PathAttrs{Origin: ibgp.OriginEGP}, nlri)

	routes := r.GetRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, ibgp.OriginEGP, routes[0].Attrs.Origin)
	assert.Equal(t, e2.Timestamp, routes[0].Timestamp)
}

func TestRemovePeerNLRIDropsOnlyThatPrefix(t *testing.T) {
	r := New()
	peer := net.ParseIP("10.0.0.2")
	keep := prefix(t, "192.0.2.0/24")
	drop := prefix(t, "198.51.100.0/24")
	r.InsertFromPeer(peer, ibgp.IPv4Unicast, &ibgp.PathAttrs{}, keep)
	r.InsertFromPeer(peer, ibgp.IPv4Unicast, &ibgp.PathAttrs{}, drop)

	r.RemovePeerNLRI(peer, ibgp.IPv4Unicast, drop)

	routes := r.GetRoutesFromPeer(peer)
	require.Len(t, routes, 1)
	assert.Equal(t, keep.Key(), routes[0].NLRI.Key())
}

func TestRemoveAllConfigLeavesOtherSources(t *testing.T) {
	r := New()
	peer := net.ParseIP("10.0.0.2")
	r.InsertFromConfig(ibgp.IPv4Unicast, &ibgp.PathAttrs{}, prefix(t, "192.0.2.0/24"))
	r.InsertFromAPI(ibgp.IPv4Unicast, &ibgp.PathAttrs{}, prefix(t, "203.0.113.0/24"))
	r.InsertFromPeer(peer, ibgp.IPv4Unicast, &ibgp.PathAttrs{}, prefix(t, "198.51.100.0/24"))

	r.RemoveAllConfig()

	routes := r.GetRoutes()
	require.Len(t, routes, 2)
	for _, e := range routes {
		assert.NotEqual(t, ibgp.SourceConfig, e.Source.Kind)
	}
}
