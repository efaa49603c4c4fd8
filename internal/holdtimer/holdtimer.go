// Package holdtimer tracks the hold/keepalive discipline for one session
// (spec.md §4.1, component C1) and the per-session sent/received message
// counters (C2). Grounded on timer/timer.go and counter/counter.go, but
// rewritten as a polled predicate instead of a callback-driven *time.Timer:
// spec.md §5 places the session's suspension points at the manager-loop
// level, so the FSM step function just asks "is it time yet" once per
// iteration rather than waiting on a timer channel.
package holdtimer

import "time"

// Timer answers the three hold-timer queries of spec.md §4.1. Negotiated
// hold of zero disables the discipline entirely: both predicates always
// return false, matching "keepalive/expiry discipline is disabled".
type Timer struct {
	lastSent     time.Time
	lastReceived time.Time
	hold         time.Duration
	interval     time.Duration
}

// New creates a Timer for a negotiated hold time, seeding both instants to
// now so a freshly-established session doesn't immediately look expired.
func New(hold time.Duration) *Timer {
	now := time.Now()
	return &Timer{
		lastSent:     now,
		lastReceived: now,
		hold:         hold,
		interval:     hold / 3,
	}
}

// MarkSent records a KEEPALIVE (or any message substituting for one) as
// just sent, per RFC 4271 4.4: any message resets the keepalive clock.
func (t *Timer) MarkSent() { t.lastSent = time.Now() }

// MarkReceived records any message as just received, resetting the hold
// clock (spec.md §4.3 "Established, received KEEPALIVE: reset hold timer").
func (t *Timer) MarkReceived() { t.lastReceived = time.Now() }

// ShouldSendKeepalive reports whether interval seconds have elapsed since
// the last send. Disabled (always false) when hold == 0.
func (t *Timer) ShouldSendKeepalive() bool {
	if t.hold == 0 {
		return false
	}
	return time.Since(t.lastSent) >= t.interval
}

// IsExpired reports whether the hold time has elapsed since the last
// message was received. Disabled (always false) when hold == 0.
func (t *Timer) IsExpired() bool {
	if t.hold == 0 {
		return false
	}
	return time.Since(t.lastReceived) >= t.hold
}

// Remaining is the display value for "time left before expiry", saturating
// at zero rather than going negative.
func (t *Timer) Remaining() time.Duration {
	left := t.hold - time.Since(t.lastReceived)
	if left < 0 {
		return 0
	}
	return left
}

// Hold returns the negotiated hold duration.
func (t *Timer) Hold() time.Duration { return t.hold }

// LastReceived returns the instant the last message arrived, surfaced by
// api.PeerDetail's LastRead field (SPEC_FULL.md §10).
func (t *Timer) LastReceived() time.Time { return t.lastReceived }

// LastSent returns the instant the last message was written, surfaced by
// api.PeerDetail's LastWrite field.
func (t *Timer) LastSent() time.Time { return t.lastSent }

// Counters holds the per-session sent/received message counts (C2),
// grounded on counter/counter.go's Counter type, collapsed to a pair of
// plain fields since a session is only ever touched by one goroutine at a
// time (the manager loop's per-iteration step, spec.md §5).
type Counters struct {
	sent     uint64
	received uint64
}

func (c *Counters) IncSent()         { c.sent++ }
func (c *Counters) IncReceived()     { c.received++ }
func (c *Counters) Sent() uint64     { return c.sent }
func (c *Counters) Received() uint64 { return c.received }
