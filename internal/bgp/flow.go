package bgp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FlowMatchKind enumerates the flowspec match grammar from spec.md §6.
type FlowMatchKind string

const (
	FlowDestination    FlowMatchKind = "destination"
	FlowSource         FlowMatchKind = "source"
	FlowProtocol       FlowMatchKind = "protocol"
	FlowPort           FlowMatchKind = "port"
	FlowDestinationPort FlowMatchKind = "destination-port"
	FlowSourcePort     FlowMatchKind = "source-port"
	FlowICMPType       FlowMatchKind = "icmp-type"
	FlowICMPCode       FlowMatchKind = "icmp-code"
	FlowPacketLength   FlowMatchKind = "packet-length"
)

var prefixKinds = map[FlowMatchKind]bool{FlowDestination: true, FlowSource: true}

// NumericOp is one comparison ("<op><value>") in a numeric match item.
// Successive ops within one match item AND together (spec.md §6), e.g.
// "port >8000 <9000" matches port in (8000, 9000).
type NumericOp struct {
	Op    byte // '>', '<', or '='
	Value uint32
}

func (o NumericOp) String() string {
	return fmt.Sprintf("%c%d", o.Op, o.Value)
}

// FlowMatch is one match clause of a FlowSpec NLRI. For FlowDestination and
// FlowSource, Prefix is set; every other kind uses Ops, each item's ops
// ANDed together, per spec.md §6's flow match grammar.
type FlowMatch struct {
	Kind   FlowMatchKind
	Prefix *net.IPNet
	Ops    []NumericOp
}

func (m FlowMatch) String() string {
	if prefixKinds[m.Kind] {
		return fmt.Sprintf("%s %s", m.Kind, m.Prefix.String())
	}
	parts := make([]string, len(m.Ops))
	for i, op := range m.Ops {
		parts[i] = op.String()
	}
	return fmt.Sprintf("%s %s", m.Kind, strings.Join(parts, " "))
}

// ParseFlowMatch parses one match item, e.g. "destination 2001:db8::/64" or
// "port >8000 <9000", per the grammar in spec.md §6.
func ParseFlowMatch(s string) (FlowMatch, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 {
		return FlowMatch{}, fmt.Errorf("bgp: invalid flow match %q", s)
	}
	kind := FlowMatchKind(fields[0])
	if prefixKinds[kind] {
		_, n, err := net.ParseCIDR(fields[1])
		if err != nil {
			return FlowMatch{}, fmt.Errorf("bgp: invalid flow match prefix %q: %w", fields[1], err)
		}
		return FlowMatch{Kind: kind, Prefix: n}, nil
	}
	ops := make([]NumericOp, 0, len(fields)-1)
	for _, f := range fields[1:] {
		op, err := parseNumericOp(f)
		if err != nil {
			return FlowMatch{}, err
		}
		ops = append(ops, op)
	}
	return FlowMatch{Kind: kind, Ops: ops}, nil
}

func parseNumericOp(s string) (NumericOp, error) {
	if s == "" {
		return NumericOp{}, fmt.Errorf("bgp: empty flow match operand")
	}
	op := s[0]
	rest := s
	switch op {
	case '>', '<', '=':
		rest = s[1:]
	default:
		op = '='
	}
	v, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return NumericOp{}, fmt.Errorf("bgp: invalid flow match operand %q: %w", s, err)
	}
	return NumericOp{Op: op, Value: uint32(v)}, nil
}

// FlowSpec is a flow-specification NLRI: an ordered, ANDed list of match
// clauses plus the action (carried separately as an extended community on
// the owning PathAttrs, per spec.md §6).
type FlowSpec struct {
	Matches []FlowMatch
}

func (f *FlowSpec) String() string {
	parts := make([]string, len(f.Matches))
	for i, m := range f.Matches {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}

// ParseFlowAction parses an action string like "redirect 6:302",
// "traffic-rate 1000000", "traffic-action sample", or "mark 42" into the
// extended community that encodes it (spec.md §6).
func ParseFlowAction(s string) (ExtendedCommunity, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ExtendedCommunity{}, fmt.Errorf("bgp: empty flow action")
	}
	switch fields[0] {
	case "redirect":
		if len(fields) != 2 {
			return ExtendedCommunity{}, fmt.Errorf("bgp: redirect action wants asn:value, got %q", s)
		}
		c, err := ParseCommunity(fields[1])
		if err != nil {
			return ExtendedCommunity{}, err
		}
		return RedirectCommunity(uint32(c.ASN()), uint64(c.Value())), nil
	case "traffic-rate":
		if len(fields) != 2 {
			return ExtendedCommunity{}, fmt.Errorf("bgp: traffic-rate action wants a bps value, got %q", s)
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return ExtendedCommunity{}, fmt.Errorf("bgp: invalid traffic-rate value %q: %w", fields[1], err)
		}
		return TrafficRateCommunity(0, v), nil
	case "traffic-action":
		if len(fields) != 2 || fields[1] != "sample" {
			return ExtendedCommunity{}, fmt.Errorf("bgp: unsupported traffic-action %q", s)
		}
		return TrafficActionSampleCommunity(), nil
	case "mark":
		if len(fields) != 2 {
			return ExtendedCommunity{}, fmt.Errorf("bgp: mark action wants a dscp value, got %q", s)
		}
		v, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil || v > 63 {
			return ExtendedCommunity{}, fmt.Errorf("bgp: mark dscp must be 0..63, got %q", fields[1])
		}
		return MarkDSCPCommunity(uint8(v)), nil
	default:
		return ExtendedCommunity{}, fmt.Errorf("bgp: unknown flow action %q", fields[0])
	}
}
