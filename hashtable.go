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

// package hashtable is a fixed-capacity chained hash table with pluggable
// key semantics and explicit control over string ownership and locking.
//
// # Tables
//
// A Table holds 2^numBits buckets, chosen at construction and never
// resized. Each bucket is a chain of entries whose keys hash to that bucket;
// the bucket for a key is hash(key) & (2^numBits-1). Lookups, insertions and
// removals scan a single chain, so their cost is proportional to the chain
// length. The table is intended for small auxiliary maps whose size is known
// up front, not as a general purpose replacement for Go's builtin map.
//
// The semantics of keys are selected by a KeyKind:
//
//	KeyIntPtr        integers and pointers, compared by value
//	KeyString        strings (or []byte), compared byte-wise
//	KeyStringNoCase  strings compared ignoring ASCII case (see StrIEq)
//	KeyCustom        caller-supplied HashFunc and CompareFunc
//
// Payloads are arbitrary non-nil values. nil is reserved to mean "absent":
// Lookup returns nil on a miss and inserting a nil payload is a contract
// violation.
//
// # String keys
//
// When a table is created with strDup, every inserted string key is copied
// into memory obtained from the configured Allocator and released on Remove,
// Clear and Close. Without strDup the table keeps the caller's key as given;
// a []byte key is aliased, so the caller must not modify or reuse it while
// it is in the table.
//
// # Locking
//
// Every table owns a single mutex guarding all of its buckets. By default
// each operation acquires it on entry and releases it before returning
// (self-synchronization). LookupKeepLocked is the exception: it returns with
// the lock still held so the caller can inspect or modify the payload
// atomically, and must then call Unlock exactly once. Tables created with
// WithSynch(false) never take the lock on their own; callers bracket
// sequences of operations with Lock and Unlock, or with Do. The lock is not
// recursive and only the table structure is protected, not the payloads.
//
// # Contract violations
//
// Programming errors such as a nil payload, a custom table without hash or
// comparison functions, a key of the wrong type, unlocking an unlocked
// table or use after Close are reported to the configured assertion hook
// (see Config). The default hook panics.
package hashtable

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

const (
	debug = false

	// MaxTableBits is the largest numBits accepted by New.
	MaxTableBits = 30
)

type entry struct {
	key     any
	payload any
}

// Bucket is one slot of a table's bucket array: the chain of entries whose
// keys hash to it. Entries are kept in a slice rather than a linked list;
// insertion appends and removal swaps the last entry into the vacated
// position.
type Bucket struct {
	entries []entry
}

// find returns the index of the entry whose key equals key, or -1.
func (b *Bucket) find(p keyPolicy, key any) int {
	for i := range b.entries {
		if p.equal(b.entries[i].key, key) {
			return i
		}
	}
	return -1
}

func (b *Bucket) insert(key, payload any) {
	b.entries = append(b.entries, entry{key: key, payload: payload})
}

// remove unlinks the entry at index i and returns it.
func (b *Bucket) remove(i int) entry {
	e := b.entries[i]
	last := len(b.entries) - 1
	b.entries[i] = b.entries[last]
	b.entries[last] = entry{}
	b.entries = b.entries[:last]
	return e
}

// Table is a fixed-capacity chained hash table. See the package
// documentation for the key kinds, string ownership and locking rules.
//
// The zero value is not usable; create tables with New or Init.
type Table struct {
	mu sync.Mutex
	// locked tracks whether mu is held so that Unlock of an unlocked table
	// can be reported to the assertion hook instead of crashing the runtime.
	locked atomic.Bool
	closed atomic.Bool

	buckets []Bucket
	// mask is len(buckets)-1; len(buckets) is always a power of 2.
	mask    uint64
	numBits uint
	used    int

	kind   KeyKind
	policy keyPolicy
	strDup bool
	synch  bool

	freePayload func(payload any)
	hashKey     HashFunc
	cmpKeys     CompareFunc

	metrics *Metrics

	// cfg is the configuration given by WithConfig. If nil the process-wide
	// configuration is consulted on every use.
	cfg *Config
}

// New constructs a table with 2^numBits buckets for keys of the given kind.
// If strDup is set string keys are copied on insertion. Without options the
// table synchronizes every operation and has no payload callback; see
// WithSynch, WithFreePayload, WithHashKey, WithCompareKeys and WithConfig.
func New(numBits uint, kind KeyKind, strDup bool, options ...option) *Table {
	t := &Table{}
	t.Init(numBits, kind, strDup, options...)
	return t
}

// Init initializes a Table in place. It accepts the same arguments as New.
// Init must not be called on a table that is in use.
func (t *Table) Init(numBits uint, kind KeyKind, strDup bool, options ...option) {
	*t = Table{
		kind:   kind,
		strDup: strDup,
		synch:  true,
	}
	for _, op := range options {
		op.apply(t)
	}

	if numBits == 0 || numBits > MaxTableBits {
		t.assertf("numBits must be in [1, %d], got %d", MaxTableBits, numBits)
		numBits = 1
	}
	t.numBits = numBits

	switch kind {
	case KeyIntPtr:
		t.policy = intPtrPolicy{}
	case KeyString:
		t.policy = stringPolicy{}
	case KeyStringNoCase:
		t.policy = stringNoCasePolicy{}
	case KeyCustom:
		p := customPolicy{hashFn: t.hashKey, cmpFn: t.cmpKeys}
		if p.hashFn == nil || p.cmpFn == nil {
			t.assertf("custom key kind requires both a hash and a compare function")
			// Degrade to a single chain compared by ==.
			if p.hashFn == nil {
				p.hashFn = func(any) uint64 { return 0 }
			}
			if p.cmpFn == nil {
				p.cmpFn = func(a, b any) bool { return a == b }
			}
		}
		t.policy = p
	default:
		t.assertf("unknown key kind %s", kind)
		t.kind = KeyIntPtr
		t.policy = intPtrPolicy{}
	}

	n := 1 << numBits
	t.buckets = t.config().Allocator.AllocBuckets(n)
	t.mask = uint64(n - 1)
}

// Close releases every remaining entry, invoking the payload callback for
// each of them, and returns the duplicated keys and the bucket array to the
// allocator. Close must not be called concurrently with any other operation
// on the table. It is invalid to use a Table after it has been closed,
// though Close itself is idempotent.
func (t *Table) Close() {
	if t.closed.Load() {
		return
	}
	if t.locked.Load() {
		t.assertf("Close called with the table locked")
	}
	t.releaseAll()
	t.config().Allocator.FreeBuckets(t.buckets)
	t.buckets = nil
	t.closed.Store(true)
}

// Clear removes every entry, invoking the payload callback for each of them,
// while keeping the bucket array.
func (t *Table) Clear() {
	if !t.checkOpen() {
		return
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}
	t.releaseAll()
}

func (t *Table) releaseAll() {
	for i := range t.buckets {
		b := &t.buckets[i]
		for j := range b.entries {
			t.release(b.entries[j])
			b.entries[j] = entry{}
		}
		b.entries = b.entries[:0]
	}
	t.used = 0
}

// release frees the resources held by an entry that has been unlinked.
func (t *Table) release(e entry) {
	if t.freePayload != nil {
		t.freePayload(e.payload)
	}
	t.freeKey(e.key)
}

// Lookup returns the payload stored for key, or nil if the table has no
// entry for key.
func (t *Table) Lookup(key any) any {
	if !t.checkOpen() {
		return nil
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}
	return t.lookup(key)
}

// LookupKeepLocked is like Lookup, but a synchronized table returns with its
// lock still held, whether or not key was found. The caller may then use the
// payload, or perform further operations that do not take the lock, before
// calling Unlock exactly once. A table created with WithSynch(false) never
// takes the lock here; the caller is expected to already hold it.
func (t *Table) LookupKeepLocked(key any) any {
	if !t.checkOpen() {
		return nil
	}
	if t.synch {
		t.Lock()
	}
	return t.lookup(key)
}

func (t *Table) lookup(key any) any {
	k, ok := t.normalize(key)
	if !ok {
		return nil
	}
	b := t.bucket(k)
	if i := b.find(t.policy, k); i >= 0 {
		t.metrics.observeLookup(true)
		return b.entries[i].payload
	}
	t.metrics.observeLookup(false)
	return nil
}

// Add inserts an entry for key. If the table already has an entry for key
// it is left unchanged and Add returns false. payload must not be nil.
func (t *Table) Add(key, payload any) bool {
	if !t.checkOpen() {
		return false
	}
	if payload == nil {
		t.assertf("nil payload added for key %v", key)
		return false
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}

	k, ok := t.normalize(key)
	if !ok {
		return false
	}
	b := t.bucket(k)
	if b.find(t.policy, k) >= 0 {
		if debug {
			fmt.Printf("add(exists): key=%v\n", k)
		}
		t.metrics.observeAdd("exists")
		return false
	}
	t.insert(b, k, payload)
	t.metrics.observeAdd("inserted")
	return true
}

// AddReplace inserts an entry for key, replacing the payload of an existing
// entry if there is one. The displaced payload is passed to the payload
// callback, if configured, and returned. On a fresh insertion AddReplace
// returns nil. payload must not be nil.
func (t *Table) AddReplace(key, payload any) any {
	if !t.checkOpen() {
		return nil
	}
	if payload == nil {
		t.assertf("nil payload added for key %v", key)
		return nil
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}

	k, ok := t.normalize(key)
	if !ok {
		return nil
	}
	b := t.bucket(k)
	if i := b.find(t.policy, k); i >= 0 {
		e := &b.entries[i]
		old := e.payload
		e.payload = payload
		if debug {
			fmt.Printf("add-replace(updating): key=%v\n", k)
		}
		if t.freePayload != nil {
			t.freePayload(old)
		}
		t.metrics.observeAdd("replaced")
		return old
	}
	t.insert(b, k, payload)
	t.metrics.observeAdd("inserted")
	return nil
}

func (t *Table) insert(b *Bucket, k, payload any) {
	if t.strDup && t.kind.isString() {
		k = t.dupKey(k.(string))
	}
	if debug {
		fmt.Printf("add(inserting): key=%v chain=%d\n", k, len(b.entries))
	}
	b.insert(k, payload)
	t.used++
}

// Remove deletes the entry for key, passing its payload to the payload
// callback if one is configured. Remove returns false if the table has no
// entry for key.
func (t *Table) Remove(key any) bool {
	if !t.checkOpen() {
		return false
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}

	k, ok := t.normalize(key)
	if !ok {
		return false
	}
	b := t.bucket(k)
	i := b.find(t.policy, k)
	if i < 0 {
		t.metrics.observeRemove(false)
		return false
	}
	e := b.remove(i)
	t.used--
	if debug {
		fmt.Printf("remove: key=%v chain=%d\n", k, len(b.entries))
	}
	t.release(e)
	t.metrics.observeRemove(true)
	return true
}

// Lock acquires the table lock. It is available whether or not the table
// synchronizes its operations, allowing the caller to make a sequence of
// operations, or the use of a looked-up payload, atomic. The lock is not
// recursive: a caller holding it must not call Lock again, nor any
// operation of a synchronized table other than Unlock.
func (t *Table) Lock() {
	t.mu.Lock()
	t.locked.Store(true)
}

// Unlock releases the table lock acquired by Lock or LookupKeepLocked.
func (t *Table) Unlock() {
	if !t.locked.Load() {
		t.assertf("unlock of unlocked table")
		return
	}
	t.locked.Store(false)
	t.mu.Unlock()
}

// Do calls fn with the table lock held and releases it on return, including
// when fn panics. It is meant for tables created with WithSynch(false),
// where fn may call any operation; on a synchronized table fn must not call
// operations that take the lock.
func (t *Table) Do(fn func()) {
	t.Lock()
	defer t.Unlock()
	fn()
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}
	return t.used
}

// Size returns the number of buckets, 2^numBits.
func (t *Table) Size() int {
	return 1 << t.numBits
}

// Kind returns the key kind the table was created with.
func (t *Table) Kind() KeyKind {
	return t.kind
}

// Stats describes the shape of a table.
type Stats struct {
	// Entries is the number of entries.
	Entries int
	// Buckets is the number of buckets.
	Buckets int
	// UsedBuckets is the number of buckets holding at least one entry.
	UsedBuckets int
	// MaxChain is the length of the longest chain.
	MaxChain int
}

// Stats returns the table's entry count and chain statistics.
func (t *Table) Stats() Stats {
	if !t.checkOpen() {
		return Stats{}
	}
	if t.synch {
		t.Lock()
		defer t.Unlock()
	}
	s := Stats{Entries: t.used, Buckets: len(t.buckets)}
	for i := range t.buckets {
		n := len(t.buckets[i].entries)
		if n > 0 {
			s.UsedBuckets++
		}
		s.MaxChain = max(s.MaxChain, n)
	}
	return s
}

// bucket returns the bucket for the normalized key k.
func (t *Table) bucket(k any) *Bucket {
	return &t.buckets[t.policy.hash(k)&t.mask]
}

// normalize converts a caller's key to the form stored in and compared by
// the table.
func (t *Table) normalize(key any) (any, bool) {
	switch t.kind {
	case KeyIntPtr:
		if k, ok := intPtrKey(key); ok {
			return k, true
		}
	case KeyString, KeyStringNoCase:
		if k, ok := stringKey(key); ok {
			return k, true
		}
	default:
		return key, true
	}
	t.assertf("key of type %T is not valid for a %s table", key, t.kind)
	return nil, false
}

func (t *Table) dupKey(s string) string {
	if len(s) == 0 {
		return ""
	}
	buf := t.config().Allocator.AllocKey(len(s))
	copy(buf, s)
	return unsafeString(buf)
}

func (t *Table) freeKey(k any) {
	if !t.strDup || !t.kind.isString() {
		return
	}
	if s := k.(string); len(s) > 0 {
		t.config().Allocator.FreeKey(unsafeBytes(s))
	}
}

func (t *Table) checkOpen() bool {
	if t.closed.Load() {
		t.assertf("use of closed table")
		return false
	}
	return true
}

func (t *Table) config() *Config {
	if t.cfg != nil {
		return t.cfg
	}
	return globalConfig.Load()
}

func (t *Table) assertf(format string, args ...any) {
	cfg := t.config()
	msg := fmt.Sprintf(format, args...)
	_ = level.Error(cfg.Logger).Log("msg", "hashtable contract violation", "kind", t.kind, "err", msg)
	cfg.AssertFail(msg)
}

// unsafeString returns a string sharing memory with b. b must not be
// modified while the string is in use.
func unsafeString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// unsafeBytes returns the bytes backing s. The result must not be modified
// unless s was created by unsafeString from memory the caller owns.
func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
