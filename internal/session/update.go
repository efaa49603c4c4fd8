// update.go implements the advertise loop (spec.md §4.3): each time the
// session makes progress, select pending entries from its per-session
// route view whose source is eligible for this peer, build and send an
// UPDATE for each, then mark it advertised.
package session

import (
	"github.com/transitorykris/kbgp/internal/rib"
)

// advertisePending sends one UPDATE per eligible pending entry and marks
// it advertised. Withdrawal re-issuance is out of scope (spec.md §4.3).
func (s *Session) advertisePending() {
	for _, e := range s.tracker.Pending() {
		if !s.peer.AdvertiseSourceAllowed(e.Source.Kind) {
			continue
		}
		if s.sendAnnouncement(e) != nil {
			continue
		}
		s.tracker.MarkAdvertised(e)
	}
}

func (s *Session) sendAnnouncement(e *rib.Entry) error {
	msg, err := buildUpdateMessage(e.Family, e.Attrs, e.NLRI, s.localAS, s.remoteAS)
	if err != nil {
		return err
	}
	return s.encode(msg)
}
