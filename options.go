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

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

type synchOption struct {
	synch bool
}

func (op synchOption) apply(t *Table) {
	t.synch = op.synch
}

// WithSynch is an option to specify whether every operation acquires the
// table lock. Tables are synchronized by default. Regardless of this option
// the lock is usable through Table.Lock and Table.Unlock.
func WithSynch(synch bool) option {
	return synchOption{synch}
}

type freePayloadOption struct {
	free func(payload any)
}

func (op freePayloadOption) apply(t *Table) {
	t.freePayload = op.free
}

// WithFreePayload is an option to specify a callback invoked for every
// payload the table lets go of: on Remove, on AddReplace of an existing key,
// and for each remaining entry on Clear and Close.
func WithFreePayload(free func(payload any)) option {
	return freePayloadOption{free}
}

type hashKeyOption struct {
	hash HashFunc
}

func (op hashKeyOption) apply(t *Table) {
	t.hashKey = op.hash
}

// WithHashKey is an option to specify the hash function of a KeyCustom
// table. It is ignored for the other key kinds.
func WithHashKey(hash HashFunc) option {
	return hashKeyOption{hash}
}

type compareKeysOption struct {
	cmp CompareFunc
}

func (op compareKeysOption) apply(t *Table) {
	t.cmpKeys = op.cmp
}

// WithCompareKeys is an option to specify the key comparison of a KeyCustom
// table. It is ignored for the other key kinds.
func WithCompareKeys(cmp CompareFunc) option {
	return compareKeysOption{cmp}
}

type configOption struct {
	cfg *Config
}

func (op configOption) apply(t *Table) {
	if op.cfg == nil {
		t.cfg = nil
		return
	}
	cfg := op.cfg.withDefaults()
	t.cfg = &cfg
}

// WithConfig is an option to give a table its own allocator, assertion hook
// and logger instead of the process-wide configuration installed by
// Configure.
func WithConfig(cfg *Config) option {
	return configOption{cfg}
}

type metricsOption struct {
	metrics *Metrics
}

func (op metricsOption) apply(t *Table) {
	t.metrics = op.metrics
}

// WithMetrics is an option to count the table's operations in m.
func WithMetrics(m *Metrics) option {
	return metricsOption{m}
}
