// Package routes is a session's per-peer route view (spec.md §4.4,
// component C5): which RIB entries that session knows about, which are
// still pending advertisement, and which have already gone out. Grounded
// on speaker/peer.go's per-peer policy/selection fields, restructured from
// struct fields into the three timestamp-keyed sets spec.md §4.4 calls for.
package routes

import (
	"time"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
	"github.com/transitorykris/kbgp/internal/rib"
)

// Tracker holds one session's view of the RIB: a family allow-list taken
// from the negotiated MultiProtocol capability, and the known/pending/
// advertised sets keyed by Entry.Timestamp (the entry's identity, spec.md
// §3).
type Tracker struct {
	families   map[ibgp.Family]bool
	known      map[time.Time]*rib.Entry
	pending    map[time.Time]*rib.Entry
	advertised map[time.Time]*rib.Entry
}

// New builds a Tracker restricted to the given negotiated families.
func New(families []ibgp.Family) *Tracker {
	allow := make(map[ibgp.Family]bool, len(families))
	for _, f := range families {
		allow[f] = true
	}
	return &Tracker{
		families:   allow,
		known:      map[time.Time]*rib.Entry{},
		pending:    map[time.Time]*rib.Entry{},
		advertised: map[time.Time]*rib.Entry{},
	}
}

// InsertRoutes adds any entries not already known to both the known and
// pending sets (spec.md §4.4). Entries outside the session's negotiated
// families are recorded as known (so a later re-snapshot doesn't re-add
// them) but never become pending or visible via Pending/Advertised.
func (t *Tracker) InsertRoutes(entries []*rib.Entry) {
	for _, e := range entries {
		if _, seen := t.known[e.Timestamp]; seen {
			continue
		}
		t.known[e.Timestamp] = e
		if t.families[e.Family] {
			t.pending[e.Timestamp] = e
		}
	}
}

// SetFamilies replaces the family allow-list, called once OPEN negotiation
// settles on the capability intersection (spec.md §8 invariant 1:
// "negotiated families ⊆ configured families ∩ remote's advertised
// families") — the Tracker is constructed eagerly with the peer's
// configured families so a pre-Established session still has somewhere to
// accumulate known entries, then narrowed here to what the peer actually
// negotiated.
func (t *Tracker) SetFamilies(families []ibgp.Family) {
	allow := make(map[ibgp.Family]bool, len(families))
	for _, f := range families {
		allow[f] = true
	}
	t.families = allow
}

// MarkAdvertised moves an entry from pending to advertised. A no-op if the
// entry isn't currently pending, so calling it twice for the same entry
// (spec.md §8 invariant 3: "E is in S.advertised at most once") is safe.
func (t *Tracker) MarkAdvertised(e *rib.Entry) {
	if _, pending := t.pending[e.Timestamp]; !pending {
		return
	}
	delete(t.pending, e.Timestamp)
	t.advertised[e.Timestamp] = e
}

// Pending returns the entries awaiting advertisement, filtered by the
// family allow-list (redundant given InsertRoutes already filters, kept so
// Pending is correct even if families is mutated after entries are
// inserted).
func (t *Tracker) Pending() []*rib.Entry {
	return filterFamilies(t.pending, t.families)
}

// Advertised returns the entries already sent to this session's peer,
// backing api's show_routes_advertised view (spec.md §4.9).
func (t *Tracker) Advertised() []*rib.Entry {
	return filterFamilies(t.advertised, t.families)
}

func filterFamilies(set map[time.Time]*rib.Entry, families map[ibgp.Family]bool) []*rib.Entry {
	out := make([]*rib.Entry, 0, len(set))
	for _, e := range set {
		if families[e.Family] {
			out = append(out, e)
		}
	}
	return out
}
