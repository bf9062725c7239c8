// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package treemark_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/packundo/treemark"
)

// edges pairs up ids into edges.
func edges(ids ...objectdb.OID) []treemark.Edge {
	var list []treemark.Edge
	for i := 0; i+1 < len(ids); i += 2 {
		list = append(list, treemark.Edge{From: ids[i], To: ids[i+1]})
	}
	return list
}

func reachable(m *treemark.Marker) []objectdb.OID {
	return slices.Collect(m.Reachable())
}

func TestMarkClosure(t *testing.T) {
	m := treemark.NewMarker()
	m.AddRefs(edges(0, 1, 1, 2, 3, 4))
	m.AddRefs(edges(2, 5, 5, 1, 6, 6))

	m.Mark([]objectdb.OID{0})

	require.Equal(t, []objectdb.OID{0, 1, 2, 5}, reachable(m))
	require.Equal(t, 4, m.ReachableCount())
	require.True(t, m.IsReachable(5))
	require.False(t, m.IsReachable(3))
}

func TestMarkRepeatedly(t *testing.T) {
	m := treemark.NewMarker()
	m.AddRefs(edges(0, 1, 7, 8, 8, 9))

	m.Mark([]objectdb.OID{0})
	require.Equal(t, []objectdb.OID{0, 1}, reachable(m))

	m.Mark([]objectdb.OID{7, 0})
	require.Equal(t, []objectdb.OID{0, 1, 7, 8, 9}, reachable(m))

	// edges from an already expanded node are followed by the next mark.
	m.AddRefs(edges(1, 20, 20, 21))
	m.Mark(nil)
	require.Equal(t, []objectdb.OID{0, 1, 7, 8, 9, 20, 21}, reachable(m))
}

func TestFreeRefs(t *testing.T) {
	m := treemark.NewMarker()
	m.AddRefs(edges(0, 1, 2, 3))
	m.Mark([]objectdb.OID{0})
	m.FreeRefs()

	m.Mark([]objectdb.OID{2})
	require.Equal(t, []objectdb.OID{0, 1, 2}, reachable(m))
}

func TestReachableStops(t *testing.T) {
	m := treemark.NewMarker()
	m.Mark([]objectdb.OID{5, 3, 9, 1})

	var got []objectdb.OID
	for oid := range m.Reachable() {
		got = append(got, oid)
		if len(got) == 2 {
			break
		}
	}
	require.Equal(t, []objectdb.OID{1, 3}, got)
}

func TestPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	const nodes = 2000
	var all []treemark.Edge
	for i := 0; i < 5000; i++ {
		all = append(all, treemark.Edge{
			From: objectdb.OID(rng.IntN(nodes)),
			To:   objectdb.OID(rng.IntN(nodes)),
		})
	}
	roots := []objectdb.OID{0, 17, 1999}

	var expected []objectdb.OID
	for attempt := 0; attempt < 10; attempt++ {
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

		m := treemark.NewMarker()
		// feed the edges in uneven batches, like a cursor would.
		for rest := all; len(rest) > 0; {
			n := min(len(rest), 1+rng.IntN(500))
			m.AddRefs(rest[:n])
			rest = rest[n:]
		}
		m.Mark(roots)

		got := reachable(m)
		if expected == nil {
			expected = got
			continue
		}
		require.Equal(t, expected, got)
	}

	// check against a naive fixed point.
	naive := map[objectdb.OID]bool{}
	for _, root := range roots {
		naive[root] = true
	}
	for changed := true; changed; {
		changed = false
		for _, edge := range all {
			if naive[edge.From] && !naive[edge.To] {
				naive[edge.To] = true
				changed = true
			}
		}
	}
	require.Len(t, expected, len(naive))
	for _, oid := range expected {
		require.True(t, naive[oid], oid)
	}
}
