package bgp

import "net"

// PathAttrs is the shared, immutable bundle of BGP path attributes a RIB
// entry carries (spec.md §3). Entries with identical PathAttrs share the
// same pointer so the RIB can de-duplicate at insert time.
type PathAttrs struct {
	NextHop     net.IP // nil for families that carry next-hop inside MP_REACH_NLRI
	Origin      Origin
	ASPath      ASPath
	LocalPref   *uint32
	MED         *uint32
	Communities CommunityList
}

// DefaultLocalPref is applied when a RIB entry's attributes don't set one
// explicitly (spec.md §4.3 UPDATE construction: "LOCAL_PREF defaults to 100").
const DefaultLocalPref = 100

// Equal reports whether two PathAttrs bundles are identical by value,
// the condition under which the RIB may share one *PathAttrs between
// multiple entries.
func (a *PathAttrs) Equal(b *PathAttrs) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if !a.NextHop.Equal(b.NextHop) || a.Origin != b.Origin {
		return false
	}
	if !equalUint32Ptr(a.LocalPref, b.LocalPref) || !equalUint32Ptr(a.MED, b.MED) {
		return false
	}
	if a.ASPath.String() != b.ASPath.String() {
		return false
	}
	return communitiesEqual(a.Communities, b.Communities)
}

func equalUint32Ptr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func communitiesEqual(a, b CommunityList) bool {
	if len(a.Standard) != len(b.Standard) || len(a.Extended) != len(b.Extended) {
		return false
	}
	for i := range a.Standard {
		if a.Standard[i] != b.Standard[i] {
			return false
		}
	}
	for i := range a.Extended {
		if a.Extended[i] != b.Extended[i] {
			return false
		}
	}
	return true
}

// LocalPrefOrDefault returns the effective LOCAL_PREF for advertisement.
func (a *PathAttrs) LocalPrefOrDefault() uint32 {
	if a.LocalPref != nil {
		return *a.LocalPref
	}
	return DefaultLocalPref
}
