package bgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommunityRoundTrip(t *testing.T) {
	c, err := ParseCommunity("65000:100")
	require.NoError(t, err)
	assert.Equal(t, uint16(65000), c.ASN())
	assert.Equal(t, uint16(100), c.Value())
	assert.Equal(t, "65000:100", c.String())
}

func TestExtendedCommunityBytesRoundTrip(t *testing.T) {
	e := RedirectCommunity(6, 302)
	b := e.Bytes()
	assert.Equal(t, byte(0x80), b[0])
	assert.Equal(t, byte(ExtSubTypeRedirect), b[1])

	got := ExtendedCommunityFromBytes(b)
	assert.Equal(t, e, got)
}

func TestParseFlowActionRedirect(t *testing.T) {
	e, err := ParseFlowAction("redirect 6:302")
	require.NoError(t, err)
	assert.Equal(t, ExtTypeFlowspecRate, e.Type)
	assert.Equal(t, ExtSubTypeRedirect, e.SubType)
	assert.Equal(t, uint32(6), e.AS)
	assert.Equal(t, uint64(302), e.Value)
}

func TestParseFlowActionMarkRejectsOutOfRange(t *testing.T) {
	_, err := ParseFlowAction("mark 64")
	assert.Error(t, err)
}
