// wire.go is the only file in this package that calls gobgp's message and
// path-attribute constructors, translating between internal/bgp's domain
// model and github.com/osrg/gobgp/v3/pkg/packet/bgp's wire types (spec.md
// §6's concrete library bindings). Isolating the translation here keeps the
// FSM/negotiation logic in fsm.go and update.go expressed in terms of this
// module's own domain types (fsm.go only switches on gobgp's decoded
// message types) — ASN-TRANS handling,
// AS-path prepend, capability intersection and the rest are testable
// without a wire round-trip.
package session

import (
	"fmt"
	"net"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
)

// asTrans is the reserved 2-byte ASN used in the OPEN peer_asn field when
// the real ASN requires 4 octets (spec.md GLOSSARY, §4.3 OPEN
// construction).
const asTrans = 23456

func capabilityParams(caps ibgp.Capabilities, localAS uint32) []gobgp.OptionParameterInterface {
	var capList []gobgp.ParameterCapabilityInterface
	for f := range caps.MultiProtocol {
		capList = append(capList, gobgp.NewCapMultiProtocol(gobgp.RouteFamily(uint32(f.AFI)<<16|uint32(f.SAFI))))
	}
	if caps.RouteRefresh {
		capList = append(capList, gobgp.NewCapRouteRefresh())
	}
	if caps.EnhancedRouteRefresh {
		capList = append(capList, gobgp.NewCapEnhancedRouteRefresh())
	}
	capList = append(capList, gobgp.NewCapFourOctetASNumber(localAS))
	return []gobgp.OptionParameterInterface{gobgp.NewOptionParameterCapability(capList)}
}

// parseOpenCapabilities extracts the advertised capability set and the
// effective remote ASN (4-octet capability wins over the 2-byte field)
// from a decoded OPEN message, per spec.md §4.3 OPEN handling.
func parseOpenCapabilities(open *gobgp.BGPOpen, peerASN16 uint16) (ibgp.Capabilities, uint32) {
	caps := ibgp.Capabilities{
		// IPv4 Unicast is implicitly supported by every BGP-4 speaker
		// independent of the multiprotocol capability (RFC 4760 only
		// governs families *beyond* the original NLRI format); an explicit
		// CapMultiProtocol entry below only ever adds to this set, never
		// narrows it.
		MultiProtocol:   map[ibgp.Family]bool{ibgp.IPv4Unicast: true},
		ExtendedNextHop: map[ibgp.Family]bool{},
		AddPath:         map[ibgp.Family]ibgp.AddPathMode{},
	}
	remoteAS := uint32(peerASN16)
	for _, p := range open.OptParams {
		capParam, ok := p.(*gobgp.OptionParameterCapability)
		if !ok {
			continue
		}
		for _, c := range capParam.Capability {
			switch cap := c.(type) {
			case *gobgp.CapMultiProtocol:
				afi, safi := cap.CapValue.ToUint32()
				caps.MultiProtocol[ibgp.Family{AFI: uint16(afi), SAFI: uint8(safi)}] = true
			case *gobgp.CapRouteRefresh:
				caps.RouteRefresh = true
			case *gobgp.CapEnhancedRouteRefresh:
				caps.EnhancedRouteRefresh = true
			case *gobgp.CapGracefulRestart:
				caps.GracefulRestart = true
			case *gobgp.CapFourOctetASNumber:
				caps.FourOctetASN = true
				remoteAS = cap.CapValue
			}
		}
	}
	return caps, remoteAS
}

func buildOpenMessage(localAS uint32, holdSeconds uint16, routerID net.IP, caps ibgp.Capabilities) *gobgp.BGPMessage {
	myAS16 := uint16(asTrans)
	if localAS < 65536 {
		myAS16 = uint16(localAS)
	}
	return gobgp.NewBGPOpenMessage(myAS16, holdSeconds, routerID.String(), capabilityParams(caps, localAS))
}

func buildKeepaliveMessage() *gobgp.BGPMessage {
	return gobgp.NewBGPKeepAliveMessage()
}

func buildNotificationMessage(code NotificationCode) *gobgp.BGPMessage {
	return gobgp.NewBGPNotificationMessage(code.Major, code.Minor, nil)
}

// buildUpdateMessage encodes one announcement as a wire UPDATE, prepending
// the local ASN for eBGP sessions (spec.md §4.3 UPDATE construction).
// IPv4 Unicast carries NEXT_HOP and the prefix directly in NLRI; every
// other family goes inside MP_REACH_NLRI with its own next-hop encoding.
func buildUpdateMessage(family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI, localAS, remoteAS uint32) (*gobgp.BGPMessage, error) {
	asPath := attrs.ASPath
	if localAS != remoteAS {
		asPath = asPath.Prepend(localAS)
	}

	pathAttrs := []gobgp.PathAttributeInterface{
		gobgp.NewPathAttributeOrigin(uint8(attrs.Origin)),
		gobgp.NewPathAttributeAsPath(asPathParams(asPath)),
		gobgp.NewPathAttributeLocalPref(attrs.LocalPrefOrDefault()),
	}
	if attrs.MED != nil {
		pathAttrs = append(pathAttrs, gobgp.NewPathAttributeMultiExitDisc(*attrs.MED))
	}
	if len(attrs.Communities.Standard) > 0 {
		pathAttrs = append(pathAttrs, gobgp.NewPathAttributeCommunities(standardCommunityValues(attrs.Communities.Standard)))
	}
	if len(attrs.Communities.Extended) > 0 {
		pathAttrs = append(pathAttrs, gobgp.NewPathAttributeExtendedCommunities(extendedCommunityValues(attrs.Communities.Extended)))
	}

	if family == ibgp.IPv4Unicast {
		if attrs.NextHop == nil {
			return nil, fmt.Errorf("session: IPv4 unicast announcement missing next-hop")
		}
		pathAttrs = append(pathAttrs, gobgp.NewPathAttributeNextHop(attrs.NextHop.String()))
		if nlri.Prefix == nil {
			return nil, fmt.Errorf("session: IPv4 unicast announcement missing prefix")
		}
		ones, _ := nlri.Prefix.Mask.Size()
		nlris := []*gobgp.IPAddrPrefix{gobgp.NewIPAddrPrefix(uint8(ones), nlri.Prefix.IP.String())}
		return gobgp.NewBGPUpdateMessage(nil, pathAttrs, toAddrPrefixes(nlris)), nil
	}

	mpNLRI, err := mpReachNLRI(family, attrs, nlri)
	if err != nil {
		return nil, err
	}
	pathAttrs = append(pathAttrs, mpNLRI)
	return gobgp.NewBGPUpdateMessage(nil, pathAttrs, nil), nil
}

func toAddrPrefixes(v []*gobgp.IPAddrPrefix) []*gobgp.IPAddrPrefix { return v }

func mpReachNLRI(family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI) (gobgp.PathAttributeInterface, error) {
	nextHop := "0.0.0.0"
	if attrs.NextHop != nil {
		nextHop = attrs.NextHop.String()
	}
	switch {
	case family == ibgp.IPv6Unicast && nlri.Prefix != nil:
		ones, _ := nlri.Prefix.Mask.Size()
		p := gobgp.NewIPv6AddrPrefix(uint8(ones), nlri.Prefix.IP.String())
		return gobgp.NewPathAttributeMpReachNLRI(nextHop, []gobgp.AddrPrefixInterface{p}), nil
	case nlri.Flow != nil:
		rules := flowRules(nlri.Flow)
		var p gobgp.AddrPrefixInterface
		if family == ibgp.IPv4Flowspec {
			p = gobgp.NewFlowSpecIPv4Unicast(rules)
		} else {
			p = gobgp.NewFlowSpecIPv6Unicast(rules)
		}
		return gobgp.NewPathAttributeMpReachNLRI(nextHop, []gobgp.AddrPrefixInterface{p}), nil
	default:
		return nil, fmt.Errorf("session: unsupported family %s for MP_REACH_NLRI", family)
	}
}

// flowRules builds gobgp flowspec components from a FlowSpec's matches.
// Each FlowMatch kind maps to the corresponding RFC 5575 component type;
// numeric ops are encoded by flowComponentItems below, while parsing the
// textual match grammar lives in internal/bgp.
func flowRules(f *ibgp.FlowSpec) []gobgp.FlowSpecComponentInterface {
	var rules []gobgp.FlowSpecComponentInterface
	for _, m := range f.Matches {
		switch m.Kind {
		case ibgp.FlowDestination:
			ones, _ := m.Prefix.Mask.Size()
			rules = append(rules, gobgp.NewFlowSpecDestinationPrefix(gobgp.NewIPAddrPrefix(uint8(ones), m.Prefix.IP.String())))
		case ibgp.FlowSource:
			ones, _ := m.Prefix.Mask.Size()
			rules = append(rules, gobgp.NewFlowSpecSourcePrefix(gobgp.NewIPAddrPrefix(uint8(ones), m.Prefix.IP.String())))
		default:
			rules = append(rules, gobgp.NewFlowSpecComponent(flowComponentType(m.Kind), flowComponentItems(m.Ops)))
		}
	}
	return rules
}

func flowComponentType(kind ibgp.FlowMatchKind) uint8 {
	switch kind {
	case ibgp.FlowProtocol:
		return gobgp.FLOW_SPEC_TYPE_IP_PROTO
	case ibgp.FlowPort:
		return gobgp.FLOW_SPEC_TYPE_PORT
	case ibgp.FlowDestinationPort:
		return gobgp.FLOW_SPEC_TYPE_DST_PORT
	case ibgp.FlowSourcePort:
		return gobgp.FLOW_SPEC_TYPE_SRC_PORT
	case ibgp.FlowICMPType:
		return gobgp.FLOW_SPEC_TYPE_ICMP_TYPE
	case ibgp.FlowICMPCode:
		return gobgp.FLOW_SPEC_TYPE_ICMP_CODE
	case ibgp.FlowPacketLength:
		return gobgp.FLOW_SPEC_TYPE_PKT_LEN
	default:
		return 0
	}
}

func flowComponentItems(ops []ibgp.NumericOp) []*gobgp.FlowSpecComponentItem {
	items := make([]*gobgp.FlowSpecComponentItem, len(ops))
	for i, op := range ops {
		var flag uint8
		switch op.Op {
		case '>':
			flag = gobgp.DEC_NUM_OP_GT
		case '<':
			flag = gobgp.DEC_NUM_OP_LT
		default:
			flag = gobgp.DEC_NUM_OP_EQ
		}
		items[i] = gobgp.NewFlowSpecComponentItem(flag, op.Value)
	}
	return items
}

func asPathParams(path ibgp.ASPath) []gobgp.AsPathParamInterface {
	out := make([]gobgp.AsPathParamInterface, len(path))
	for i, seg := range path {
		segType := uint8(gobgp.BGP_ASPATH_ATTR_TYPE_SEQ)
		if seg.Kind == ibgp.SegmentSet {
			segType = gobgp.BGP_ASPATH_ATTR_TYPE_SET
		}
		out[i] = gobgp.NewAs4PathParam(segType, seg.ASNs)
	}
	return out
}

func standardCommunityValues(cs []ibgp.Community) []uint32 {
	out := make([]uint32, len(cs))
	for i, c := range cs {
		out[i] = uint32(c)
	}
	return out
}

func extendedCommunityValues(cs []ibgp.ExtendedCommunity) []gobgp.ExtendedCommunityInterface {
	out := make([]gobgp.ExtendedCommunityInterface, 0, len(cs))
	for _, c := range cs {
		b := c.Bytes()
		if parsed, err := gobgp.ParseExtended(b[:]); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

// parseUpdateMessage converts a decoded wire UPDATE into stored updates
// (spec.md §4.5/§4.3 UPDATE parsing): one per announced IPv4 unicast NLRI
// or IPv6 unicast prefix in MP_REACH_NLRI, plus the prefixes of the IPv4
// withdrawn-routes field. MP_REACH_NLRI, if present, determines the family;
// otherwise IPv4 Unicast. Flowspec NLRI carried in MP_REACH_NLRI produce no
// announcement, and MP_UNREACH_NLRI is not read.
func parseUpdateMessage(u *gobgp.BGPUpdate) (announcements []Announcement, withdrawals []Withdrawal) {
	var origin ibgp.Origin
	var asPath ibgp.ASPath
	var nextHop net.IP
	var localPref, med *uint32
	var communities ibgp.CommunityList
	family := ibgp.IPv4Unicast
	var mpNLRI []gobgp.AddrPrefixInterface

	for _, attr := range u.PathAttributes {
		switch a := attr.(type) {
		case *gobgp.PathAttributeOrigin:
			origin = ibgp.Origin(a.Value)
		case *gobgp.PathAttributeAsPath:
			asPath = parseAsPath(a)
		case *gobgp.PathAttributeNextHop:
			nextHop = a.Value
		case *gobgp.PathAttributeLocalPref:
			v := a.Value
			localPref = &v
		case *gobgp.PathAttributeMultiExitDisc:
			v := a.Value
			med = &v
		case *gobgp.PathAttributeCommunities:
			for _, v := range a.Value {
				communities.Standard = append(communities.Standard, ibgp.Community(v))
			}
		case *gobgp.PathAttributeExtendedCommunities:
			for _, v := range a.Value {
				b := v.Serialize()
				var arr [8]byte
				copy(arr[:], b)
				communities.Extended = append(communities.Extended, ibgp.ExtendedCommunityFromBytes(arr))
			}
		case *gobgp.PathAttributeMpReachNLRI:
			family = ibgp.Family{AFI: a.AFI, SAFI: a.SAFI}
			if len(a.Value) > 0 {
				nextHop = a.Nexthop
			}
			mpNLRI = a.Value
		}
	}

	attrs := &ibgp.PathAttrs{
		NextHop:     nextHop,
		Origin:      origin,
		ASPath:      asPath,
		LocalPref:   localPref,
		MED:         med,
		Communities: communities,
	}

	if family == ibgp.IPv4Unicast {
		for _, n := range u.NLRI {
			_, ipnet, err := net.ParseCIDR(n.String())
			if err != nil {
				continue
			}
			announcements = append(announcements, Announcement{Family: family, Attrs: attrs, NLRI: ibgp.PrefixNLRI(ipnet)})
		}
	} else {
		for _, n := range mpNLRI {
			if ipp, ok := n.(*gobgp.IPv6AddrPrefix); ok {
				_, ipnet, err := net.ParseCIDR(ipp.String())
				if err == nil {
					announcements = append(announcements, Announcement{Family: family, Attrs: attrs, NLRI: ibgp.PrefixNLRI(ipnet)})
				}
			}
		}
	}

	for _, w := range u.WithdrawnRoutes {
		_, ipnet, err := net.ParseCIDR(w.String())
		if err != nil {
			continue
		}
		withdrawals = append(withdrawals, Withdrawal{Family: ibgp.IPv4Unicast, NLRI: ibgp.PrefixNLRI(ipnet)})
	}

	return announcements, withdrawals
}

func parseAsPath(a *gobgp.PathAttributeAsPath) ibgp.ASPath {
	var path ibgp.ASPath
	for _, p := range a.Value {
		param, ok := p.(*gobgp.As4PathParam)
		if !ok {
			continue
		}
		kind := ibgp.SegmentSequence
		if param.Type == gobgp.BGP_ASPATH_ATTR_TYPE_SET {
			kind = ibgp.SegmentSet
		}
		path = append(path, ibgp.Segment{Kind: kind, ASNs: param.AS})
	}
	return path
}
