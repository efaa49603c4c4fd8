package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsKeepalive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, gobgp.NewBGPKeepAliveMessage()))

	msg, err := Decode(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.IsType(t, &gobgp.BGPKeepAlive{}, msg.Body)
}

func TestEncodeDecodeRoundTripsOpen(t *testing.T) {
	open := gobgp.NewBGPOpenMessage(65001, 90, "192.0.2.1", nil)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, open))

	msg, err := Decode(bufio.NewReader(&buf))
	require.NoError(t, err)
	decoded, ok := msg.Body.(*gobgp.BGPOpen)
	require.True(t, ok)
	assert.EqualValues(t, 65001, decoded.MyAS)
}

// a connection closed mid-header must surface as ErrShortRead, not a
// CodecError, so the session layer tears the transport down instead of
// treating it as a malformed message (spec.md §4.2, §7).
func TestDecodeShortReadOnTruncatedHeader(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		client.Write([]byte{0, 1, 2})
		client.Close()
	}()

	_, err := Decode(bufio.NewReader(server))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortRead))

	var perr *net.OpError
	assert.False(t, errors.As(err, &perr), "a clean EOF shouldn't surface as a net.OpError")
}

func TestDecodeShortReadOnTruncatedBody(t *testing.T) {
	open := gobgp.NewBGPOpenMessage(65001, 90, "192.0.2.1", nil)
	full, err := open.Serialize()
	require.NoError(t, err)
	require.Greater(t, len(full), headerLen)

	client, server := net.Pipe()
	go func() {
		client.Write(full[:headerLen+1])
		client.Close()
	}()

	_, err = Decode(bufio.NewReader(server))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortRead))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}

func TestDecodeRejectsGarbageBody(t *testing.T) {
	header := make([]byte, headerLen)
	for i := range header[:16] {
		header[i] = 0xff
	}
	header[16], header[17] = 0, headerLen+1
	header[18] = gobgp.BGP_MSG_UPDATE
	buf := append(header, 0xff)

	_, err := Decode(bufio.NewReader(bytes.NewReader(buf)))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrShortRead))
}
