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
	"os"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory then Table.Close must be
// called in order to ensure FreeBuckets and FreeKey are called.
type Allocator interface {
	// AllocBuckets should return a slice equivalent to make([]Bucket, n).
	AllocBuckets(n int) []Bucket

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []Bucket)

	// AllocKey should return a slice equivalent to make([]byte, n). It
	// backs string keys duplicated by tables created with strDup.
	AllocKey(n int) []byte

	// FreeKey can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocKey. The slice
	// has the length originally requested.
	FreeKey(v []byte)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocBuckets(n int) []Bucket {
	return make([]Bucket, n)
}

func (defaultAllocator) FreeBuckets(v []Bucket) {
}

func (defaultAllocator) AllocKey(n int) []byte {
	return make([]byte, n)
}

func (defaultAllocator) FreeKey(v []byte) {
}

// Config holds the allocation and assertion hooks used by tables.
//
// Contract violations (a nil payload, a custom key kind without callbacks,
// unlocking an unlocked table, use after Close, ...) are logged to Logger
// and then reported to AssertFail. The default AssertFail panics.
type Config struct {
	Allocator  Allocator
	AssertFail func(msg string)
	Logger     log.Logger
}

// DefaultConfig returns the configuration used when Configure has never been
// called.
func DefaultConfig() Config {
	return Config{
		Allocator:  defaultAllocator{},
		AssertFail: defaultAssertFail,
		Logger:     log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)),
	}
}

func defaultAssertFail(msg string) {
	panic(errors.Errorf("hashtable: assertion failed: %s", msg))
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.Allocator == nil {
		c.Allocator = defaultAllocator{}
	}
	if c.AssertFail == nil {
		c.AssertFail = defaultAssertFail
	}
	if c.Logger == nil {
		c.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	return c
}

var globalConfig = atomic.NewPointer(func() *Config {
	c := DefaultConfig()
	return &c
}())

// Configure installs the process-wide configuration shared by every table
// that was not given one with WithConfig. Unset fields take their default.
//
// Configure must be called before initializing any table that relies on the
// process-wide configuration. Tables do not capture a copy: reconfiguring
// while tables are live is permitted, but keeping allocations and frees
// consistent across the switch is the caller's responsibility.
func Configure(cfg Config) {
	cfg = cfg.withDefaults()
	globalConfig.Store(&cfg)
}

// GlobalConfig returns the current process-wide configuration.
func GlobalConfig() Config {
	return *globalConfig.Load()
}
