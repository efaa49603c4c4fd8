package bgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestASPathRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"65000",
		"65000 65001 65002",
		"{65002,65003}",
		"65000 {65002,65003} 65004",
	}
	for _, c := range cases {
		p, err := ParseASPath(c)
		require.NoError(t, err)
		assert.Equal(t, c, p.String())
	}
}

func TestASPathPrependPreservesLeadingSequence(t *testing.T) {
	p := ASPath{{Kind: SegmentSequence, ASNs: []uint32{65002}}}
	got := p.Prepend(65000)
	assert.Equal(t, "65000 65002", got.String())
}

func TestASPathPrependNewSequenceBeforeLeadingSet(t *testing.T) {
	p := ASPath{{Kind: SegmentSet, ASNs: []uint32{65002, 65003}}}
	got := p.Prepend(65000)
	assert.Equal(t, "65000 {65002,65003}", got.String())
}

func TestASPathPrependEmpty(t *testing.T) {
	var p ASPath
	got := p.Prepend(65000)
	assert.Equal(t, "65000", got.String())
}
