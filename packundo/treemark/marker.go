// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package treemark computes which objects are reachable from a set of roots
// over reference edges streamed in arbitrary order.
package treemark

import (
	"iter"

	"github.com/google/btree"

	"storj.io/relstore/objectdb"
)

// Edge is a reference from one object to another.
type Edge struct {
	From objectdb.OID
	To   objectdb.OID
}

// Marker is an in-memory mark and sweep structure.
//
// Edges of a node are dropped as soon as the node has been expanded, so the
// memory held after closure is proportional to the reachable nodes.
type Marker struct {
	refs      map[objectdb.OID][]objectdb.OID
	reachable *btree.BTreeG[objectdb.OID]

	// pending holds reachable nodes that received edges after they were
	// expanded.
	pending []objectdb.OID
}

// NewMarker returns an empty marker.
func NewMarker() *Marker {
	return &Marker{
		refs: make(map[objectdb.OID][]objectdb.OID),
		reachable: btree.NewG(32, func(a, b objectdb.OID) bool {
			return a < b
		}),
	}
}

// AddRefs ingests edges.
func (m *Marker) AddRefs(edges []Edge) {
	for _, edge := range edges {
		targets, known := m.refs[edge.From]
		if !known && m.reachable.Has(edge.From) {
			m.pending = append(m.pending, edge.From)
		}
		m.refs[edge.From] = append(targets, edge.To)
	}
}

// Mark marks roots reachable and closes over the ingested edges. It may be
// called repeatedly.
func (m *Marker) Mark(roots []objectdb.OID) {
	stack := m.pending
	m.pending = nil

	for _, root := range roots {
		if _, found := m.reachable.ReplaceOrInsert(root); !found {
			stack = append(stack, root)
		}
	}

	for len(stack) > 0 {
		from := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		targets := m.refs[from]
		delete(m.refs, from)

		for _, to := range targets {
			if _, found := m.reachable.ReplaceOrInsert(to); !found {
				stack = append(stack, to)
			}
		}
	}
}

// FreeRefs discards every ingested edge.
func (m *Marker) FreeRefs() {
	m.refs = make(map[objectdb.OID][]objectdb.OID)
	m.pending = nil
}

// IsReachable returns whether oid has been marked.
func (m *Marker) IsReachable(oid objectdb.OID) bool {
	return m.reachable.Has(oid)
}

// ReachableCount returns the number of marked nodes.
func (m *Marker) ReachableCount() int {
	return m.reachable.Len()
}

// Reachable yields the marked nodes in ascending order.
func (m *Marker) Reachable() iter.Seq[objectdb.OID] {
	return func(yield func(objectdb.OID) bool) {
		m.reachable.Ascend(func(oid objectdb.OID) bool {
			return yield(oid)
		})
	}
}
