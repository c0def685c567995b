// Package edgesemantics is the single source of truth for the mutual
// exclusion rules among the four edge types. Drivers consume
// IncompatibleKeys to build a conditional-insert predicate; nothing else in
// the repository is allowed to re-derive these rules.
package edgesemantics

import "github.com/tracebench/tracebench/internal/model"

// KeyPattern describes a set of existing edges that must be absent for an
// insertion candidate to be admissible. A zero-value ID2/Type field paired
// with its Has* flag set to false means "any value of that field" — the
// "*" wildcard from the rule tables.
type KeyPattern struct {
	ID1    string
	ID2    string
	HasID2 bool
	Type   model.EdgeType
	HasType bool
}

// IncompatibleKeys returns, for a candidate edge insertion, the set of key
// patterns whose presence would violate the edge semantic invariant (I1).
// The four cases below are transcribed rule-for-rule from the reference
// harness's conditional-insert predicate builder.
func IncompatibleKeys(candidate model.Edge) []KeyPattern {
	id1, id2 := candidate.PrimaryKey, candidate.RemoteKey

	switch candidate.Type {
	case model.Other:
		// (id1, id2) assumed non-unique and non-bidirectional.
		return []KeyPattern{
			{ID1: id1, Type: model.Unique, HasType: true},
			{ID1: id1, Type: model.UniqueAndBidirectional, HasType: true},
			{ID1: id1, ID2: id2, HasID2: true, Type: model.Bidirectional, HasType: true},
			{ID1: id2, ID2: id1, HasID2: true},
		}

	case model.Bidirectional:
		// (id1, id2) assumed non-unique, and assumed bidirectional so its
		// reverse must not be recorded as unidirectional or unique.
		return []KeyPattern{
			{ID1: id1, Type: model.Unique, HasType: true},
			{ID1: id1, Type: model.UniqueAndBidirectional, HasType: true},
			{ID1: id1, ID2: id2, HasID2: true, Type: model.Other, HasType: true},
			{ID1: id2, ID2: id1, HasID2: true, Type: model.Other, HasType: true},
			{ID1: id2, ID2: id1, HasID2: true, Type: model.Unique, HasType: true},
		}

	case model.Unique:
		// (id1, id2) assumed unique (no other edge may start with id1) and
		// non-bidirectional (no reverse edge of any type may exist).
		return []KeyPattern{
			{ID1: id1},
			{ID1: id2, ID2: id1, HasID2: true},
		}

	case model.UniqueAndBidirectional:
		// Same uniqueness constraint as Unique; the reverse edge is
		// specifically allowed only as a UniqueAndBidirectional edge (its
		// own mirror), so Other/Unique reverses are excluded explicitly.
		return []KeyPattern{
			{ID1: id1},
			{ID1: id2, ID2: id1, HasID2: true, Type: model.Other, HasType: true},
			{ID1: id2, ID2: id1, HasID2: true, Type: model.Unique, HasType: true},
		}

	default:
		panic("edgesemantics: invalid edge type")
	}
}

// Matches reports whether the given edge falls within the pattern.
func (p KeyPattern) Matches(e model.Edge) bool {
	if p.ID1 != e.PrimaryKey {
		return false
	}
	if p.HasID2 && p.ID2 != e.RemoteKey {
		return false
	}
	if p.HasType && p.Type != e.Type {
		return false
	}
	return true
}
