package bgp

import (
	"strconv"
	"strings"
)

// SegmentKind is the AS_PATH segment type (RFC 4271 4.3).
type SegmentKind uint8

const (
	SegmentSequence SegmentKind = 2
	SegmentSet      SegmentKind = 1
)

func (k SegmentKind) String() string {
	if k == SegmentSet {
		return "set"
	}
	return "sequence"
}

// Segment is one run of AS numbers of a single kind.
type Segment struct {
	Kind SegmentKind
	ASNs []uint32
}

// ASPath is an ordered list of segments, the textual/wire form of AS_PATH.
type ASPath []Segment

// Prepend adds asn to the AS path for an eBGP advertisement, preserving the
// leading segment's kind per spec.md §9 Open Question resolution: prepend
// within the leading segment if it's already an AS_SEQUENCE, otherwise push
// a new leading AS_SEQUENCE segment of one ASN.
func (p ASPath) Prepend(asn uint32) ASPath {
	if len(p) == 0 {
		return ASPath{{Kind: SegmentSequence, ASNs: []uint32{asn}}}
	}
	if p[0].Kind == SegmentSequence {
		out := make(ASPath, len(p))
		copy(out, p)
		asns := make([]uint32, 0, len(p[0].ASNs)+1)
		asns = append(asns, asn)
		asns = append(asns, p[0].ASNs...)
		out[0] = Segment{Kind: SegmentSequence, ASNs: asns}
		return out
	}
	out := make(ASPath, 0, len(p)+1)
	out = append(out, Segment{Kind: SegmentSequence, ASNs: []uint32{asn}})
	out = append(out, p...)
	return out
}

// String renders the textual AS-path form: sequences as bare numbers,
// sets wrapped in braces, e.g. "65000 65001 {65002,65003} 65004".
func (p ASPath) String() string {
	parts := make([]string, 0, len(p))
	for _, seg := range p {
		nums := make([]string, len(seg.ASNs))
		for i, n := range seg.ASNs {
			nums[i] = strconv.FormatUint(uint64(n), 10)
		}
		if seg.Kind == SegmentSet {
			parts = append(parts, "{"+strings.Join(nums, ",")+"}")
		} else {
			parts = append(parts, strings.Join(nums, " "))
		}
	}
	return strings.Join(parts, " ")
}

// ParseASPath parses the textual form produced by String, satisfying the
// round-trip invariant in spec.md §8 invariant 8.
func ParseASPath(s string) (ASPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var path ASPath
	var seq []uint32
	flushSeq := func() {
		if len(seq) > 0 {
			path = append(path, Segment{Kind: SegmentSequence, ASNs: seq})
			seq = nil
		}
	}
	for _, tok := range strings.Fields(s) {
		if strings.HasPrefix(tok, "{") {
			flushSeq()
			inner := strings.Trim(tok, "{}")
			var set []uint32
			for _, n := range strings.Split(inner, ",") {
				v, err := strconv.ParseUint(strings.TrimSpace(n), 10, 32)
				if err != nil {
					return nil, err
				}
				set = append(set, uint32(v))
			}
			path = append(path, Segment{Kind: SegmentSet, ASNs: set})
			continue
		}
		v, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return nil, err
		}
		seq = append(seq, uint32(v))
	}
	flushSeq()
	return path, nil
}
