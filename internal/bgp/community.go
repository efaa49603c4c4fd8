package bgp

import (
	"fmt"
	"strconv"
	"strings"
)

// Community is a standard (RFC 1997) 32-bit community, displayed as
// "asn:value" per spec.md §3.
type Community uint32

func NewCommunity(asn, value uint16) Community {
	return Community(uint32(asn)<<16 | uint32(value))
}

func (c Community) ASN() uint16   { return uint16(c >> 16) }
func (c Community) Value() uint16 { return uint16(c) }

func (c Community) String() string {
	return fmt.Sprintf("%d:%d", c.ASN(), c.Value())
}

// ParseCommunity parses the "asn:value" display form, the inverse of String.
func ParseCommunity(s string) (Community, error) {
	asn, value, err := splitPair(s)
	if err != nil {
		return 0, err
	}
	return NewCommunity(uint16(asn), uint16(value)), nil
}

func splitPair(s string) (uint64, uint64, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bgp: invalid community %q, want asn:value", s)
	}
	a, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bgp: invalid community asn %q: %w", parts[0], err)
	}
	v, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bgp: invalid community value %q: %w", parts[1], err)
	}
	return a, v, nil
}

// ExtCommunityType is the first octet of an extended community, selecting
// its sub-encoding (spec.md §3 Community invariants).
type ExtCommunityType uint8

const (
	ExtTypeTwoOctetASTarget ExtCommunityType = 0x00
	ExtTypeIPv4Target       ExtCommunityType = 0x01
	ExtTypeFourOctetASTarget ExtCommunityType = 0x02
	ExtTypeOpaque           ExtCommunityType = 0x03
	ExtTypeFlowspecRate     ExtCommunityType = 0x80
)

// Flowspec sub-types, carried in the second octet when Type == ExtTypeFlowspecRate.
const (
	ExtSubTypeTrafficRate   uint8 = 0x06
	ExtSubTypeTrafficAction uint8 = 0x07
	ExtSubTypeRedirect      uint8 = 0x08
	ExtSubTypeMarkDSCP      uint8 = 0x09
)

// ExtendedCommunity is a 64-bit typed value (spec.md §3). AS and Value hold
// the decoded target/payload for the AS-target and flowspec sub-encodings;
// Opaque is the raw form for anything else.
type ExtendedCommunity struct {
	Type    ExtCommunityType
	SubType uint8
	AS      uint32 // meaningful for AS-target and flowspec redirect/rate encodings
	Value   uint64 // meaningful for flowspec rate/mark and the AS-target local value
}

// Bytes encodes the extended community into its 8-octet wire form:
// [type][subtype][6 bytes of payload]. AS-target encodings place a 2- or
// 4-octet ASN followed by the remaining value octets; flowspec encodings
// place the ASN (if any) then a big-endian numeric payload.
func (e ExtendedCommunity) Bytes() [8]byte {
	var b [8]byte
	b[0] = byte(e.Type)
	b[1] = e.SubType
	switch e.Type {
	case ExtTypeTwoOctetASTarget, ExtTypeFlowspecRate:
		b[2] = byte(e.AS >> 8)
		b[3] = byte(e.AS)
		putUint32(b[4:8], uint32(e.Value))
	case ExtTypeFourOctetASTarget:
		putUint32(b[2:6], e.AS)
		b[6] = byte(e.Value >> 8)
		b[7] = byte(e.Value)
	case ExtTypeIPv4Target:
		putUint32(b[2:6], e.AS)
		b[6] = byte(e.Value >> 8)
		b[7] = byte(e.Value)
	default:
		putUint64Low(b[2:8], e.Value)
	}
	return b
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putUint64Low(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// ExtendedCommunityFromBytes decodes the 8-octet wire form, the inverse of
// Bytes, used when parsing UPDATE path attributes off the wire.
func ExtendedCommunityFromBytes(b [8]byte) ExtendedCommunity {
	e := ExtendedCommunity{Type: ExtCommunityType(b[0]), SubType: b[1]}
	switch e.Type {
	case ExtTypeTwoOctetASTarget, ExtTypeFlowspecRate:
		e.AS = uint32(b[2])<<8 | uint32(b[3])
		e.Value = uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	case ExtTypeFourOctetASTarget, ExtTypeIPv4Target:
		e.AS = uint32(b[2])<<24 | uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
		e.Value = uint64(b[6])<<8 | uint64(b[7])
	default:
		for _, bb := range b[2:8] {
			e.Value = e.Value<<8 | uint64(bb)
		}
	}
	return e
}

// RedirectCommunity builds the "redirect <asn>:<value>" flowspec extended
// community used by advertise_flow's redirect action (spec.md §6, scenario f).
func RedirectCommunity(asn uint32, value uint64) ExtendedCommunity {
	return ExtendedCommunity{Type: ExtTypeFlowspecRate, SubType: ExtSubTypeRedirect, AS: asn, Value: value}
}

// TrafficRateCommunity builds the "traffic-rate <bps>" flowspec action.
func TrafficRateCommunity(asn uint32, bps uint64) ExtendedCommunity {
	return ExtendedCommunity{Type: ExtTypeFlowspecRate, SubType: ExtSubTypeTrafficRate, AS: asn, Value: bps}
}

// TrafficActionSampleCommunity builds the "traffic-action sample" flowspec action.
func TrafficActionSampleCommunity() ExtendedCommunity {
	return ExtendedCommunity{Type: ExtTypeFlowspecRate, SubType: ExtSubTypeTrafficAction, Value: 1}
}

// MarkDSCPCommunity builds the "mark <0..63>" flowspec action.
func MarkDSCPCommunity(dscp uint8) ExtendedCommunity {
	return ExtendedCommunity{Type: ExtTypeFlowspecRate, SubType: ExtSubTypeMarkDSCP, Value: uint64(dscp)}
}

func (e ExtendedCommunity) String() string {
	switch e.SubType {
	case ExtSubTypeRedirect:
		return fmt.Sprintf("redirect %d:%d", e.AS, e.Value)
	case ExtSubTypeTrafficRate:
		return fmt.Sprintf("traffic-rate %d", e.Value)
	case ExtSubTypeTrafficAction:
		return "traffic-action sample"
	case ExtSubTypeMarkDSCP:
		return fmt.Sprintf("mark %d", e.Value)
	default:
		return fmt.Sprintf("%d:%d", e.AS, e.Value)
	}
}

// CommunityList is the split standard/extended community set a PathAttrs
// bundle carries, encoded as separate COMMUNITY and EXTENDED_COMMUNITIES
// path attributes on the wire (spec.md §3 / §4.3 UPDATE construction).
type CommunityList struct {
	Standard []Community
	Extended []ExtendedCommunity
}
