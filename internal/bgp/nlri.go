package bgp

import "net"

// NLRI is the network-layer reachability information carried by one stored
// update: a prefix for Unicast families, or a FlowSpec for Flowspec
// families (spec.md §3, GLOSSARY). Exactly one of Prefix/Flow is set,
// matching the entry's Family.SAFI.
type NLRI struct {
	Prefix *net.IPNet
	Flow   *FlowSpec
}

func PrefixNLRI(p *net.IPNet) NLRI { return NLRI{Prefix: p} }
func FlowNLRI(f *FlowSpec) NLRI    { return NLRI{Flow: f} }

func (n NLRI) String() string {
	if n.Prefix != nil {
		return n.Prefix.String()
	}
	if n.Flow != nil {
		return n.Flow.String()
	}
	return "<empty nlri>"
}

// Key is a comparable identity for use as a map key (net.IPNet and FlowSpec
// both contain slices, so the string form is the key).
func (n NLRI) Key() string { return n.String() }
