// Package model defines the entities, source records, and relationship triples
// that flow through resolution, deduplication, and graph completion.
package model

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/twpayne/go-geom"
)

// Provenance marks whether an entity or relationship was stated in the source
// text or only inferred.
type Provenance string

const (
	// ProvenanceExplicit is textually stated.
	ProvenanceExplicit Provenance = "explicit"
	// ProvenanceImplicit is inferred or generated.
	ProvenanceImplicit Provenance = "implicit"
)

// Stronger returns the provenance that wins when two records merge.
// Explicit always overrides implicit.
func (p Provenance) Stronger(other Provenance) Provenance {
	if p == ProvenanceExplicit || other == ProvenanceExplicit {
		return ProvenanceExplicit
	}
	if p == "" {
		return other
	}
	return p
}

// LinkStatus is the outcome of one source lookup.
type LinkStatus string

const (
	// LinkStatusLinked means the source returned a match.
	LinkStatusLinked LinkStatus = "linked"
	// LinkStatusNoMatch means the source was reachable but had no match.
	LinkStatusNoMatch LinkStatus = "no_match"
	// LinkStatusError means the lookup failed (transport, throttling, timeout).
	LinkStatusError LinkStatus = "error"
)

// Span is a [Start, End) character range into the source text.
type Span struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// CandidateEntity is a proposed entity awaiting resolution. It is immutable
// once handed to the resolver.
type CandidateEntity struct {
	Name         string     `json:"name" yaml:"name"`
	Type         string     `json:"type" yaml:"type"`
	CitationSpan *Span      `json:"citation_span,omitempty" yaml:"citation_span,omitempty"`
	Provenance   Provenance `json:"provenance" yaml:"provenance"`
}

// Details holds optional per-source data populated only in additional-details
// mode.
type Details struct {
	URL         string              `json:"url,omitempty"`
	ImageURL    string              `json:"image_url,omitempty"`
	Website     string              `json:"website,omitempty"`
	Coordinates *geom.Point         `json:"-"`
	Dates       map[string]string   `json:"dates,omitempty"`
	Relations   map[string][]string `json:"relations,omitempty"`
}

// SetCoordinates stores a WGS84 latitude/longitude pair.
func (d *Details) SetCoordinates(lat, lon float64) {
	d.Coordinates = geom.NewPointFlat(geom.XY, []float64{lon, lat})
}

// MarshalJSON renders coordinates as a {"lat","lon"} object alongside the
// other detail fields.
func (d Details) MarshalJSON() ([]byte, error) {
	type plain Details
	out := struct {
		plain
		Coordinates *latLon `json:"coordinates,omitempty"`
	}{plain: plain(d)}
	if d.Coordinates != nil && !d.Coordinates.Empty() {
		out.Coordinates = &latLon{Lat: d.Coordinates.Y(), Lon: d.Coordinates.X()}
	}
	return json.Marshal(out)
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SourceRecord is one adapter's answer for a candidate.
type SourceRecord struct {
	SourceID     string     `json:"source_id"`
	MatchedLabel string     `json:"matched_label,omitempty"`
	CanonicalID  string     `json:"canonical_id,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Types        []string   `json:"types,omitempty"`
	LinkStatus   LinkStatus `json:"link_status"`
	Attempt      string     `json:"attempt,omitempty"`
	Err          string     `json:"error,omitempty"`
	ErrKind      string     `json:"error_kind,omitempty"`
	Details      *Details   `json:"details,omitempty"`
}

// Linked reports whether the record carries a match.
func (r SourceRecord) Linked() bool {
	return r.LinkStatus == LinkStatusLinked
}

// richer reports whether r should replace cur when both describe the same
// source. Linked beats unlinked; among linked, the longer summary wins.
func (r SourceRecord) richer(cur SourceRecord) bool {
	if r.Linked() != cur.Linked() {
		return r.Linked()
	}
	if !r.Linked() {
		// An error says less than a clean no_match.
		return cur.LinkStatus == LinkStatusError && r.LinkStatus == LinkStatusNoMatch
	}
	return len(r.Summary) > len(cur.Summary)
}

// SourcePriority is the fixed order of source records within an entity.
// Sources not listed sort after these, by id.
var SourcePriority = []string{"wikipedia", "wikidata", "dbpedia"}

// SourceLess orders source ids by SourcePriority, then lexicographically.
func SourceLess(a, b string) bool {
	ra, rb := sourceRank(a), sourceRank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

func sourceRank(id string) int {
	if i := slices.Index(SourcePriority, id); i >= 0 {
		return i
	}
	return len(SourcePriority)
}

// ResolvedEntity is a candidate merged with its source records. It holds at
// most one record per source, ordered by source priority.
type ResolvedEntity struct {
	Name          string         `json:"name"`
	CandidateType string         `json:"candidate_type,omitempty"`
	Type          string         `json:"type"`
	Provenance    Provenance     `json:"provenance"`
	CitationSpans []Span         `json:"citation_spans,omitempty"`
	Sources       []SourceRecord `json:"sources"`
	Aliases       []string       `json:"aliases,omitempty"`
}

// Source returns the record for sourceID, if present.
func (e ResolvedEntity) Source(sourceID string) (SourceRecord, bool) {
	for _, r := range e.Sources {
		if r.SourceID == sourceID {
			return r, true
		}
	}
	return SourceRecord{}, false
}

// LinkedCount returns the number of sources that matched.
func (e ResolvedEntity) LinkedCount() int {
	n := 0
	for _, r := range e.Sources {
		if r.Linked() {
			n++
		}
	}
	return n
}

// Summary returns the first non-empty linked summary in source order.
func (e ResolvedEntity) Summary() string {
	for _, r := range e.Sources {
		if r.Linked() && r.Summary != "" {
			return r.Summary
		}
	}
	return ""
}

// Coordinates returns the first coordinates reported by any linked source.
func (e ResolvedEntity) Coordinates() *geom.Point {
	for _, r := range e.Sources {
		if r.Linked() && r.Details != nil && r.Details.Coordinates != nil {
			return r.Details.Coordinates
		}
	}
	return nil
}

// NewResolvedEntity builds a resolved entity from a candidate and records
// already ordered by source priority.
func NewResolvedEntity(c CandidateEntity, records []SourceRecord) ResolvedEntity {
	e := ResolvedEntity{
		Name:          c.Name,
		CandidateType: c.Type,
		Provenance:    c.Provenance,
		Sources:       records,
	}
	if e.Provenance == "" {
		e.Provenance = ProvenanceExplicit
	}
	if c.CitationSpan != nil {
		e.CitationSpans = []Span{*c.CitationSpan}
	}
	e.Type = DisplayType(c.Type, records)
	return e
}

// Merge folds other into e and returns the surviving record. e keeps its name;
// other's name becomes an alias. Neither input is modified.
func Merge(e, other ResolvedEntity) ResolvedEntity {
	out := ResolvedEntity{
		Name:          e.Name,
		CandidateType: e.CandidateType,
		Provenance:    e.Provenance.Stronger(other.Provenance),
		CitationSpans: unionSpans(e.CitationSpans, other.CitationSpans),
		Aliases:       unionAliases(e.Name, e.Aliases, other.Name, other.Aliases),
	}
	if out.CandidateType == "" {
		out.CandidateType = other.CandidateType
	}

	out.Sources = make([]SourceRecord, 0, len(e.Sources)+len(other.Sources))
	idx := make(map[string]int, len(e.Sources))
	for _, r := range e.Sources {
		idx[r.SourceID] = len(out.Sources)
		out.Sources = append(out.Sources, r)
	}
	for _, r := range other.Sources {
		i, ok := idx[r.SourceID]
		if !ok {
			idx[r.SourceID] = len(out.Sources)
			out.Sources = append(out.Sources, r)
			continue
		}
		if r.richer(out.Sources[i]) {
			out.Sources[i] = r
		}
	}
	sort.SliceStable(out.Sources, func(i, j int) bool {
		return SourceLess(out.Sources[i].SourceID, out.Sources[j].SourceID)
	})

	out.Type = DisplayType(out.CandidateType, out.Sources)
	return out
}

func unionSpans(a, b []Span) []Span {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[Span]bool, len(a)+len(b))
	out := make([]Span, 0, len(a)+len(b))
	for _, s := range append(append([]Span{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

func unionAliases(keep string, keepAliases []string, other string, otherAliases []string) []string {
	seen := map[string]bool{keep: true}
	var out []string
	for _, a := range append(append(append([]string{}, keepAliases...), other), otherAliases...) {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
