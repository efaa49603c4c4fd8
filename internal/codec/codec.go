// Package codec adapts github.com/osrg/gobgp/v3/pkg/packet/bgp — the
// external wire-format library spec.md §1 assumes available ("the BGP wire
// codec ... is assumed available as a library") — to the framed
// Decode/Encode contract spec.md §4.2 describes: a 16-octet marker, a
// 16-bit length, a 1-octet type, decoded into one of OPEN/UPDATE/
// NOTIFICATION/KEEPALIVE/ROUTE_REFRESH or a "need more bytes" signal.
// Grounded on stream/stream.go's buffered-read idiom (read exactly N bytes,
// retry on short reads) for the framing step; gobgp owns everything past
// the 19-byte header.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// headerLen is the fixed BGP message header: 16-octet marker + u16 length
// + u8 type (spec.md §6).
const headerLen = 19

// ErrShortRead wraps any failure to read a complete header or body off the
// reader (a closed or truncated connection, or a read deadline firing), as
// distinct from a malformed message. Bytes read before the failure stay
// consumed; internal/session treats ErrShortRead as a TransportError unless
// the underlying error is a read timeout.
var ErrShortRead = errors.New("codec: need more bytes")

// Decode reads one framed BGP message from r. It blocks until a full
// header and body are available, wrapping a truncated/closed connection in
// ErrShortRead so the session layer can distinguish "peer hung up
// mid-message" (TransportError) from "peer sent garbage" (CodecError).
func Decode(r *bufio.Reader) (*gobgp.BGPMessage, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	bodyLen := int(header[16])<<8 | int(header[17])
	if bodyLen < headerLen {
		return nil, fmt.Errorf("codec: invalid message length %d", bodyLen)
	}
	buf := make([]byte, bodyLen)
	copy(buf, header)
	if _, err := io.ReadFull(r, buf[headerLen:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	msg, err := gobgp.ParseBGPMessage(buf)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return msg, nil
}

// Encode serializes m and writes it to w, flushing before returning
// (spec.md §5 back-pressure: "Outbound message sends flush before
// returning").
func Encode(w io.Writer, m *gobgp.BGPMessage) error {
	b, err := m.Serialize()
	if err != nil {
		return fmt.Errorf("codec: serialize: %w", err)
	}
	_, err = w.Write(b)
	return err
}
