package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitorykris/kbgp/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	_, prefix, err := net.ParseCIDR("203.0.113.0/24")
	require.NoError(t, err)
	_, remote, err := net.ParseCIDR("127.0.0.1/32")
	require.NoError(t, err)

	peer := &config.Peer{
		RemoteIP: remote,
		RemoteAS: 65001,
		StaticRoutes: []config.RouteSpec{
			{Prefix: prefix, NextHop: net.ParseIP("192.0.2.1")},
		},
	}
	cfg := &config.Config{
		RouterID:  net.ParseIP("192.0.2.1"),
		DefaultAS: 65000,
		BGPSocket: "127.0.0.1:0",
		Peers:     []*config.Peer{peer},
	}
	return config.New(cfg)
}

func TestNewSeedsConfigRoutes(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	routes := srv.RIB().GetRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, "203.0.113.0/24", routes[0].NLRI.Prefix.String())
}

func TestRunStopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		srv.Run(stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after stop was closed")
	}
}

func TestApplyConfigReSeedsRoutes(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	_, prefix2, err := net.ParseCIDR("198.51.100.0/24")
	require.NoError(t, err)
	cfg.Peers[0].StaticRoutes = append(cfg.Peers[0].StaticRoutes, config.RouteSpec{
		Prefix: prefix2, NextHop: net.ParseIP("192.0.2.1"),
	})

	srv.ApplyConfig(cfg)
	// The old generation's Config-sourced entries are cleared before the
	// new peer list is reseeded, so a reload never accumulates duplicates
	// of an unchanged static route (spec.md §3 Lifecycle).
	assert.Len(t, srv.RIB().GetRoutes(), 2)
}

func TestApplyConfigDropsRoutesForRemovedPeer(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)
	defer srv.Close()

	require.Len(t, srv.RIB().GetRoutes(), 1)

	cfg.Peers = nil
	srv.ApplyConfig(cfg)
	assert.Empty(t, srv.RIB().GetRoutes())
}
