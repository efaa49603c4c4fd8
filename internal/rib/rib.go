// Package rib is the in-process routing information base (spec.md §4.5,
// component C4): a single flat store of entries tagged by provenance
// (internal/bgp.Source), replacing the three-way Adj-RIB-In/Loc-RIB/
// Adj-RIB-Out split that rib/rib.go quotes from RFC 4271 §3.2 in prose only
// — that file "is not constrained" to a particular storage shape, and
// spec.md §4.5 explicitly asks for one table discriminated by Source
// instead. Lookup is linear; the design trades lookup performance for
// simple ownership, per spec.md §4.5.
package rib

import (
	"net"
	"sync"
	"time"

	ibgp "github.com/transitorykris/kbgp/internal/bgp"
)

// Entry is an immutable RIB record (spec.md §3). Timestamp is its identity:
// internal/routes.Tracker keys its known/pending/advertised state off it,
// never off a pointer identity or NLRI value alone, so two otherwise
// distinct announcements of the same prefix (e.g. a withdraw/readvertise)
// get distinct identities.
type Entry struct {
	Timestamp time.Time
	Source    ibgp.Source
	Family    ibgp.Family
	Attrs     *ibgp.PathAttrs
	NLRI      ibgp.NLRI
}

// RIB is the exclusive owner of all Entry values. Sessions and the API
// layer only ever see *Entry handles returned from its read methods;
// nothing but this package ever mutates an Entry's fields after insert
// (spec.md §3 Ownership invariant).
type RIB struct {
	mu      sync.RWMutex
	entries []*Entry
	attrs   []*ibgp.PathAttrs // de-duplication pool, compared by value
}

// New returns an empty RIB.
func New() *RIB {
	return &RIB{}
}

// dedupedAttrs returns a shared *PathAttrs equal by value to attrs, adding
// it to the pool if this is the first occurrence (spec.md §3: "Path
// attributes (shared where identical to allow de-duplication)"). Caller
// must hold mu for writing.
func (r *RIB) dedupedAttrs(attrs *ibgp.PathAttrs) *ibgp.PathAttrs {
	for _, a := range r.attrs {
		if a.Equal(attrs) {
			return a
		}
	}
	r.attrs = append(r.attrs, attrs)
	return attrs
}

func (r *RIB) insert(source ibgp.Source, family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Entry{
		Timestamp: time.Now(),
		Source:    source,
		Family:    family,
		Attrs:     r.dedupedAttrs(attrs),
		NLRI:      nlri,
	}
	r.entries = append(r.entries, e)
	return e
}

// InsertFromAPI adds a single operator-injected entry (spec.md §4.5,
// §4.9). Api entries are append-only/idempotent-replace by
// (Source, Family, NLRI) per the Open Question decision in SPEC_FULL.md §9:
// a matching existing Api entry is replaced in place with fresh attributes
// and a new Timestamp (so it re-enters every eligible session's pending
// set, modeled as remove-then-insert).
func (r *RIB) InsertFromAPI(family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI) *Entry {
	r.removeAPIEntry(family, nlri)
	return r.insert(ibgp.APISource(), family, attrs, nlri)
}

func (r *RIB) removeAPIEntry(family ibgp.Family, nlri ibgp.NLRI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.Source.Kind == ibgp.SourceAPI && e.Family == family && e.NLRI.Key() == nlri.Key() {
			continue
		}
		out = append(out, e)
	}
	r.entries = out
}

// InsertFromConfig adds a single config-sourced entry (static_routes /
// static_flows, spec.md §4.8), inserted at server start and on reload.
func (r *RIB) InsertFromConfig(family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI) *Entry {
	return r.insert(ibgp.ConfigSource(), family, attrs, nlri)
}

// InsertFromPeer records one already-parsed stored update learned from an
// UPDATE message's announced NLRI (spec.md §4.5: "parse the BGP UPDATE
// into one or more stored updates"; the parse itself is internal/session's
// job, this method just stores the result).
func (r *RIB) InsertFromPeer(peerIP net.IP, family ibgp.Family, attrs *ibgp.PathAttrs, nlri ibgp.NLRI) *Entry {
	return r.insert(ibgp.PeerSource(peerIP), family, attrs, nlri)
}

// RemoveFromPeer drops every entry sourced from peerIP — called wholesale
// on session end (spec.md §4.5/§4.7): the manager lists the ended peer in
// the Result of the same Iterate/ApplyConfig call that removed the session,
// and the server loop calls this for it before the next iteration.
func (r *RIB) RemoveFromPeer(peerIP net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.Source.IsPeer(peerIP) {
			continue
		}
		out = append(out, e)
	}
	r.entries = out
}

// RemovePeerNLRI deletes a single entry matching peerIP/family/nlri,
// implementing per-prefix withdrawal from an UPDATE's withdrawn_routes
// (spec.md §3 Lifecycle: "Individual withdrawals are deleted on UPDATE
// withdrawn_routes").
func (r *RIB) RemovePeerNLRI(peerIP net.IP, family ibgp.Family, nlri ibgp.NLRI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.Source.IsPeer(peerIP) && e.Family == family && e.NLRI.Key() == nlri.Key() {
			continue
		}
		out = append(out, e)
	}
	r.entries = out
}

// RemoveAllConfig drops every Config-sourced entry (spec.md §3 Lifecycle:
// "Config entries ... live until the corresponding peer config
// disappears"). Config peers are pushed wholesale on a reload (mirroring
// poller.ReplaceConfigs), so server.ApplyConfig clears the old generation
// with this before reseeding from the new peer list rather than tracking
// a per-peer NLRI diff.
func (r *RIB) RemoveAllConfig() {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.Source.Kind == ibgp.SourceConfig {
			continue
		}
		out = append(out, e)
	}
	r.entries = out
}

// GetRoutes lists every entry currently stored, for the unfiltered
// show_routes_learned view.
func (r *RIB) GetRoutes() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// GetRoutesFromPeer lists entries whose source is exactly peerIP, for
// show_routes_learned(from_peer=...).
func (r *RIB) GetRoutesFromPeer(peerIP net.IP) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Source.IsPeer(peerIP) {
			out = append(out, e)
		}
	}
	return out
}

// GetRoutesForPeer lists entries eligible to be advertised *to* peerIP:
// everything not sourced from that same peer ("no reflection by default",
// spec.md §4.5 and the Open Question decision in SPEC_FULL.md §9 — no
// policy-based exclusion beyond that, since a policy language is an
// explicit Non-goal).
func (r *RIB) GetRoutesForPeer(peerIP net.IP) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Source.IsPeer(peerIP) {
			continue
		}
		out = append(out, e)
	}
	return out
}
