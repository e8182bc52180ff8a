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
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

// restoreGlobalConfig reinstates the process-wide configuration in effect
// when the test started.
func restoreGlobalConfig(t *testing.T) {
	prev := GlobalConfig()
	t.Cleanup(func() { Configure(prev) })
}

func TestConfigureDefaults(t *testing.T) {
	restoreGlobalConfig(t)

	Configure(Config{})
	cfg := GlobalConfig()
	require.NotNil(t, cfg.Allocator)
	require.NotNil(t, cfg.AssertFail)
	require.NotNil(t, cfg.Logger)
	require.Equal(t, defaultAllocator{}, cfg.Allocator)
	require.Panics(t, func() { cfg.AssertFail("boom") })
}

func TestConfigureGlobal(t *testing.T) {
	restoreGlobalConfig(t)

	a := &countingAllocator{}
	r := &assertRecorder{}
	var buf bytes.Buffer
	Configure(Config{Allocator: a, AssertFail: r.fail, Logger: log.NewLogfmtLogger(&buf)})

	tbl := New(4, KeyString, true)
	require.EqualValues(t, 1, a.allocBuckets)
	require.True(t, tbl.Add("k", 1))
	require.EqualValues(t, 1, a.allocKeys)

	// Contract violations are logged and reported to the configured hook.
	require.False(t, tbl.Add("k2", nil))
	r.requireFailed(t, "nil payload")
	require.Contains(t, buf.String(), "level=error")
	require.Contains(t, buf.String(), "nil payload")

	// Tables read the process-wide configuration on every use rather than
	// capturing it at construction.
	b := &countingAllocator{}
	Configure(Config{Allocator: b, AssertFail: r.fail, Logger: log.NewNopLogger()})
	require.True(t, tbl.Add("k3", 3))
	require.EqualValues(t, 1, a.allocKeys)
	require.EqualValues(t, 1, b.allocKeys)

	tbl.Close()
	require.EqualValues(t, 2, b.freeKeys)
	require.EqualValues(t, 1, b.freeBuckets)
}

func TestWithConfigOverridesGlobal(t *testing.T) {
	restoreGlobalConfig(t)

	global := &countingAllocator{}
	Configure(Config{Allocator: global})

	own := &countingAllocator{}
	tbl := New(4, KeyString, true, WithConfig(&Config{Allocator: own}))
	require.True(t, tbl.Add("k", 1))
	tbl.Close()

	require.EqualValues(t, 0, global.allocBuckets)
	require.EqualValues(t, 0, global.allocKeys)
	require.EqualValues(t, 1, own.allocBuckets)
	require.EqualValues(t, 1, own.allocKeys)
	require.EqualValues(t, 1, own.freeKeys)

	// WithConfig(nil) falls back to the process-wide configuration.
	tbl = New(4, KeyString, true, WithConfig(&Config{Allocator: own}), WithConfig(nil))
	require.EqualValues(t, 1, global.allocBuckets)
	tbl.Close()
}
