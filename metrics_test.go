// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashtable

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)
	tbl := New(4, KeyIntPtr, false, WithMetrics(m))
	defer tbl.Close()

	require.True(t, tbl.Add(1, "a"))
	require.False(t, tbl.Add(1, "b"))
	require.Equal(t, "a", tbl.AddReplace(1, "c"))
	require.Nil(t, tbl.AddReplace(2, "d"))
	require.Equal(t, "c", tbl.Lookup(1))
	require.Nil(t, tbl.Lookup(3))
	require.Equal(t, "d", tbl.LookupKeepLocked(2))
	tbl.Unlock()
	require.True(t, tbl.Remove(1))
	require.False(t, tbl.Remove(1))

	require.EqualValues(t, 2, testutil.ToFloat64(m.lookups.WithLabelValues("hit")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.lookups.WithLabelValues("miss")))
	require.EqualValues(t, 2, testutil.ToFloat64(m.adds.WithLabelValues("inserted")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.adds.WithLabelValues("exists")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.adds.WithLabelValues("replaced")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.removes.WithLabelValues("removed")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.removes.WithLabelValues("missing")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.observeLookup(true)
	m.observeAdd("inserted")
	m.observeRemove(false)
}

func TestCollector(t *testing.T) {
	tbl := New(2, KeyCustom, false,
		WithHashKey(func(key any) uint64 { return uint64(key.(int)) }),
		WithCompareKeys(func(a, b any) bool { return a.(int) == b.(int) }))
	defer tbl.Close()
	for _, k := range []int{0, 4, 8, 1} {
		require.True(t, tbl.Add(k, k))
	}

	c := NewCollector(tbl, "test")
	require.EqualValues(t, 4, testutil.CollectAndCount(c))

	const expected = `
# HELP hashtable_buckets Number of buckets in the table.
# TYPE hashtable_buckets gauge
hashtable_buckets{table="test"} 4
# HELP hashtable_entries Number of entries in the table.
# TYPE hashtable_entries gauge
hashtable_entries{table="test"} 4
# HELP hashtable_max_chain_length Length of the longest bucket chain.
# TYPE hashtable_max_chain_length gauge
hashtable_max_chain_length{table="test"} 3
# HELP hashtable_used_buckets Number of buckets holding at least one entry.
# TYPE hashtable_used_buckets gauge
hashtable_used_buckets{table="test"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}
