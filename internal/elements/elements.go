// Package elements holds the pure element-set operations of the sync engine:
// change detection and per-element last-writer-wins merging.
package elements

import "github.com/dyluth/boardsync/pkg/board"

// key identifies one element revision.
type key struct {
	id      string
	version int
}

// IsChanged reports whether two element sets differ.
// Two sets are equal iff they have the same cardinality and the same multiset
// of (id, version) pairs, regardless of order. Nothing else about an element is
// compared.
func IsChanged(a, b []board.Element) bool {
	if len(a) != len(b) {
		return true
	}
	if len(a) == 0 {
		return false
	}

	counts := make(map[key]int, len(a))
	for _, el := range a {
		counts[key{el.ID, el.Version}]++
	}

	for _, el := range b {
		k := key{el.ID, el.Version}
		n := counts[k]
		if n == 0 {
			return true
		}
		if n == 1 {
			delete(counts, k)
		} else {
			counts[k] = n - 1
		}
	}

	return len(counts) != 0
}

// Merge combines a local element set with a remote one.
// Every local element is kept unless the remote set holds the same id with a
// strictly greater version; remote elements with unknown ids are added.
// Tombstones compete by version like any other element, so a newer edit can
// resurrect an older deletion.
//
// The result lists local ids first in local order, followed by remote-only ids
// in remote order. Neither input is modified.
func Merge(local, remote []board.Element) []board.Element {
	merged := make([]board.Element, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))

	for _, el := range local {
		if i, ok := index[el.ID]; ok {
			// duplicate id in the local set: keep the highest version
			if el.Version > merged[i].Version {
				merged[i] = el
			}
			continue
		}
		index[el.ID] = len(merged)
		merged = append(merged, el)
	}

	for _, el := range remote {
		i, ok := index[el.ID]
		if !ok {
			index[el.ID] = len(merged)
			merged = append(merged, el)
			continue
		}
		if el.Version > merged[i].Version {
			merged[i] = el
		}
	}

	return merged
}

// CountActive returns the number of elements that are not tombstoned.
func CountActive(set []board.Element) int {
	n := 0
	for _, el := range set {
		if !el.IsDeleted {
			n++
		}
	}
	return n
}

// Active returns the elements that are not tombstoned, in order.
func Active(set []board.Element) []board.Element {
	out := make([]board.Element, 0, len(set))
	for _, el := range set {
		if !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out
}

// Clone returns a copy of the slice so callers can hand sets across
// goroutines without sharing the backing array.
func Clone(set []board.Element) []board.Element {
	if set == nil {
		return []board.Element{}
	}
	out := make([]board.Element, len(set))
	copy(out, set)
	return out
}
