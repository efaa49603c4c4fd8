package bgp

// AddPathMode records which direction(s) ADD-PATH is negotiated for a
// family (RFC 7911): receive, send, or both.
type AddPathMode uint8

const (
	AddPathReceive AddPathMode = 1 << iota
	AddPathSend
)

// Capabilities is the negotiated intersection of two speakers' advertised
// capabilities (spec.md §3). Boolean fields AND; set-typed fields
// intersect; map-typed fields keep only keys present on both sides.
type Capabilities struct {
	MultiProtocol        map[Family]bool
	RouteRefresh         bool
	ExtendedNextHop      map[Family]bool
	GracefulRestart      bool
	AddPath              map[Family]AddPathMode
	EnhancedRouteRefresh bool
	LongLivedGR          bool
	FourOctetASN         bool
}

// Common computes the field-wise intersection of two capability sets,
// satisfying spec.md §8 invariants 5 (commutative) and 6 (idempotent:
// Common(c, c) == c).
func Common(a, b Capabilities) Capabilities {
	return Capabilities{
		MultiProtocol:        intersectBoolMap(a.MultiProtocol, b.MultiProtocol),
		RouteRefresh:         a.RouteRefresh && b.RouteRefresh,
		ExtendedNextHop:      intersectBoolMap(a.ExtendedNextHop, b.ExtendedNextHop),
		GracefulRestart:      a.GracefulRestart && b.GracefulRestart,
		AddPath:              intersectAddPathMap(a.AddPath, b.AddPath),
		EnhancedRouteRefresh: a.EnhancedRouteRefresh && b.EnhancedRouteRefresh,
		LongLivedGR:          a.LongLivedGR && b.LongLivedGR,
		FourOctetASN:         a.FourOctetASN && b.FourOctetASN,
	}
}

func intersectBoolMap(a, b map[Family]bool) map[Family]bool {
	if len(a) == 0 || len(b) == 0 {
		return map[Family]bool{}
	}
	out := map[Family]bool{}
	for f, av := range a {
		if bv, ok := b[f]; ok && av && bv {
			out[f] = true
		}
	}
	return out
}

func intersectAddPathMap(a, b map[Family]AddPathMode) map[Family]AddPathMode {
	if len(a) == 0 || len(b) == 0 {
		return map[Family]AddPathMode{}
	}
	out := map[Family]AddPathMode{}
	for f, av := range a {
		if bv, ok := b[f]; ok {
			if common := av & bv; common != 0 {
				out[f] = common
			}
		}
	}
	return out
}

// Families returns the negotiated multiprotocol family set as a slice,
// used to build a session's per-session route tracker allow-list
// (internal/routes.Tracker, spec.md §4.4).
func (c Capabilities) Families() []Family {
	out := make([]Family, 0, len(c.MultiProtocol))
	for f, ok := range c.MultiProtocol {
		if ok {
			out = append(out, f)
		}
	}
	return out
}
