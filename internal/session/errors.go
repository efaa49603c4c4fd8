// Error taxonomy for the session FSM (spec.md §7). Each kind carries
// enough information for the manager to decide whether a NOTIFICATION can
// be sent and, if so, with which (major, minor) code.
package session

import "fmt"

// NotificationCode is the (major, minor) pair a fatal error maps to.
type NotificationCode struct {
	Major byte
	Minor byte
}

// Deconfigured is returned when the manager removes a peer's config on
// reload while a session to it is active (spec.md §4.7, §7).
// NOTIFICATION(6,3): Cease, Peer De-configured.
type Deconfigured struct{}

func (Deconfigured) Error() string           { return "session: peer deconfigured" }
func (Deconfigured) Notification() NotificationCode { return NotificationCode{6, 3} }

// OpenAsnMismatch is returned when an OPEN's advertised ASN doesn't match
// the configured remote_as (spec.md §4.3 OPEN handling).
// NOTIFICATION(3,2): OPEN Message Error, Bad Peer AS.
type OpenAsnMismatch struct {
	Received uint32
	Expected uint32
}

func (e OpenAsnMismatch) Error() string {
	return fmt.Sprintf("session: OPEN asn mismatch: received %d, expected %d", e.Received, e.Expected)
}
func (OpenAsnMismatch) Notification() NotificationCode { return NotificationCode{3, 2} }

// HoldTimeExpired is returned when the hold timer expires (spec.md §4.1,
// §4.3). NOTIFICATION(4,0): Hold Timer Expired.
type HoldTimeExpired struct {
	IntervalSeconds uint16
}

func (e HoldTimeExpired) Error() string {
	return fmt.Sprintf("session: hold timer expired (%ds)", e.IntervalSeconds)
}
func (HoldTimeExpired) Notification() NotificationCode { return NotificationCode{4, 0} }

// FiniteStateMachine is returned when a message arrives in a state that
// doesn't expect it (spec.md §4.3's "unexpected state for event" row).
// NOTIFICATION(5, minor) where minor is 1 (OpenSent), 2 (OpenConfirm), 3
// (Established), or 0 otherwise.
type FiniteStateMachine struct {
	State State
}

func (e FiniteStateMachine) Error() string {
	return fmt.Sprintf("session: unexpected message in state %s", e.State)
}

func (e FiniteStateMachine) Notification() NotificationCode {
	return NotificationCode{5, fsmMinor(e.State)}
}

func fsmMinor(s State) byte {
	switch s {
	case OpenSent:
		return 1
	case OpenConfirm:
		return 2
	case Established:
		return 3
	default:
		return 0
	}
}

// PeerNotification is returned when the peer itself sends a NOTIFICATION
// (spec.md §4.3: "received NOTIFICATION: log; terminate"). No reply is
// sent — the BGP connection is already being closed by the sender.
type PeerNotification struct {
	Code NotificationCode
}

func (e PeerNotification) Error() string {
	return fmt.Sprintf("session: peer sent NOTIFICATION(%d,%d)", e.Code.Major, e.Code.Minor)
}

// TransportError wraps an I/O failure on the socket (spec.md §7): no
// NOTIFICATION is possible since the transport itself is the thing that
// failed.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string { return fmt.Sprintf("session: transport error: %v", e.Err) }
func (e TransportError) Unwrap() error { return e.Err }

// CodecError wraps a malformed message that the codec couldn't decode
// (spec.md §7). No NOTIFICATION is attempted: the peer's encoding is
// untrusted at this point.
type CodecError struct {
	Err error
}

func (e CodecError) Error() string { return fmt.Sprintf("session: codec error: %v", e.Err) }
func (e CodecError) Unwrap() error { return e.Err }

// Notifiable is implemented by every fatal error kind that maps to a
// NOTIFICATION the manager should attempt to send before tearing the
// session down (spec.md §7 propagation policy).
type Notifiable interface {
	error
	Notification() NotificationCode
}

var (
	_ Notifiable = Deconfigured{}
	_ Notifiable = OpenAsnMismatch{}
	_ Notifiable = HoldTimeExpired{}
	_ Notifiable = FiniteStateMachine{}
)
