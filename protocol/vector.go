// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package protocol

// Counter is one originator's contribution to a file's Vector: a short
// device ID string paired with a strictly monotonic per-originator counter
// (§3 invariant 5).
type Counter struct {
	ID    string // the originator's 7-character short device ID
	Value uint64
}

// Vector is a multiset of (originator short ID -> counter), kept sorted by
// ID, capturing the causal edit history of a file (§3, GLOSSARY).
type Vector []Counter

// Ordering describes the relationship between two Vectors.
type Ordering int

const (
	Equal Ordering = iota
	Greater
	Lesser
	ConcurrentLesser
	ConcurrentGreater
)

// Concurrent reports whether the ordering represents two vectors that are
// causally concurrent (neither a strict ancestor of the other).
func (o Ordering) Concurrent() bool {
	return o == ConcurrentLesser || o == ConcurrentGreater
}

// Update bumps (or adds) this vector's counter for originator id to the
// smallest value strictly greater than its current one, preserving sort
// order by ID. It returns the updated vector.
func (v Vector) Update(id string) Vector {
	for i := range v {
		if v[i].ID == id {
			v[i].Value++
			return v
		}
	}
	v = append(v, Counter{ID: id, Value: 1})
	return sortVector(v)
}

func sortVector(v Vector) Vector {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1].ID > v[j].ID; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
	return v
}

// MaxCounter returns the largest counter value present in the vector, used
// as the secondary conflict tiebreak in §4.4.
func (v Vector) MaxCounter() uint64 {
	var max uint64
	for _, c := range v {
		if c.Value > max {
			max = c.Value
		}
	}
	return max
}

// MaxCounterOriginator returns the originator ID owning the vector's
// largest counter value, the tertiary conflict tiebreak in §4.4, applied
// once the modification time and max-counter tiebreaks both end in a tie.
// Ties between equally large counters are broken by the lexicographically
// greater ID, the same directional rule the rest of the cascade uses.
func (v Vector) MaxCounterOriginator() string {
	var best Counter
	for _, c := range v {
		if c.Value > best.Value || (c.Value == best.Value && c.ID > best.ID) {
			best = c
		}
	}
	return best.ID
}

// Copy returns an independent copy of the vector.
func (v Vector) Copy() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Compare returns the Ordering describing a's relation to b (§4.4): a is a
// strict ancestor of b (Lesser) iff every counter in a is matched or
// exceeded in b and at least one is exceeded; symmetrically for Greater.
// Anything else is concurrent, reported as ConcurrentLesser/Greater so that
// callers needing a strict total order (sorting, stable iteration) still
// get one, with Concurrent() available to test for the causal-concurrency
// case.
func (a Vector) Compare(b Vector) Ordering {
	var ai, bi int
	var av, bv Counter

	result := Equal

	for ai < len(a) || bi < len(b) {
		var aMissing, bMissing bool

		if ai < len(a) {
			av = a[ai]
		} else {
			av = Counter{}
			aMissing = true
		}

		if bi < len(b) {
			bv = b[bi]
		} else {
			bv = Counter{}
			bMissing = true
		}

		switch {
		case av.ID == bv.ID:
			if av.Value > bv.Value {
				if result == Lesser {
					return ConcurrentLesser
				}
				result = Greater
			} else if av.Value < bv.Value {
				if result == Greater {
					return ConcurrentGreater
				}
				result = Lesser
			}

		case !aMissing && av.ID < bv.ID || bMissing:
			// Counter present only on the a side.
			if av.Value > 0 {
				if result == Lesser {
					return ConcurrentLesser
				}
				result = Greater
			}

		case !bMissing && bv.ID < av.ID || aMissing:
			// Counter present only on the b side.
			if bv.Value > 0 {
				if result == Greater {
					return ConcurrentGreater
				}
				result = Lesser
			}
		}

		if ai < len(a) && (av.ID <= bv.ID || bMissing) {
			ai++
		}
		if bi < len(b) && (bv.ID <= av.ID || aMissing) {
			bi++
		}
	}

	return result
}

// IsAncestor reports whether a is a strict causal ancestor of b (§4.4's "R
// is a descendant of L" test, called as L.IsAncestor(R)).
func (a Vector) IsAncestor(b Vector) bool {
	return a.Compare(b) == Lesser
}

// IsAncestorOrEqual reports whether a is an ancestor of, or equal to, b.
func (a Vector) IsAncestorOrEqual(b Vector) bool {
	o := a.Compare(b)
	return o == Lesser || o == Equal
}
