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
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// KeyKind selects how a Table hashes and compares its keys.
type KeyKind uint8

const (
	// KeyIntPtr keys are pointer-sized integers or pointers. Any integer
	// type, uintptr, unsafe.Pointer or Go pointer is accepted and compared
	// by numeric value.
	KeyIntPtr KeyKind = iota
	// KeyString keys are case-sensitive strings, given as string or []byte.
	KeyString
	// KeyStringNoCase keys are strings compared without regard to ASCII
	// letter case.
	KeyStringNoCase
	// KeyCustom keys are hashed and compared by caller-supplied functions
	// (see WithHashKey and WithCompareKeys).
	KeyCustom
)

func (k KeyKind) String() string {
	switch k {
	case KeyIntPtr:
		return "intptr"
	case KeyString:
		return "string"
	case KeyStringNoCase:
		return "string-nocase"
	case KeyCustom:
		return "custom"
	default:
		return fmt.Sprintf("KeyKind(%d)", uint8(k))
	}
}

func (k KeyKind) isString() bool {
	return k == KeyString || k == KeyStringNoCase
}

// HashFunc hashes a key of a KeyCustom table. Keys that compare equal must
// hash equal.
type HashFunc func(key any) uint64

// CompareFunc reports whether two keys of a KeyCustom table are equal. It
// must be an equivalence relation.
type CompareFunc func(a, b any) bool

// keyPolicy is the hash and comparison behavior of a KeyKind. It operates on
// normalized keys: uintptr for KeyIntPtr, string for the string kinds and
// the caller's value for KeyCustom.
type keyPolicy interface {
	hash(key any) uint64
	equal(a, b any) bool
}

type intPtrPolicy struct{}

func (intPtrPolicy) hash(key any) uint64 {
	return mix64(uint64(key.(uintptr)))
}

func (intPtrPolicy) equal(a, b any) bool {
	return a.(uintptr) == b.(uintptr)
}

type stringPolicy struct{}

func (stringPolicy) hash(key any) uint64 {
	return xxhash.Sum64String(key.(string))
}

func (stringPolicy) equal(a, b any) bool {
	return a.(string) == b.(string)
}

type stringNoCasePolicy struct{}

func (stringNoCasePolicy) hash(key any) uint64 {
	return hashNoCase(key.(string))
}

func (stringNoCasePolicy) equal(a, b any) bool {
	return StrIEq(a.(string), b.(string))
}

type customPolicy struct {
	hashFn HashFunc
	cmpFn  CompareFunc
}

func (p customPolicy) hash(key any) uint64 {
	return p.hashFn(key)
}

func (p customPolicy) equal(a, b any) bool {
	return p.cmpFn(a, b)
}

// mix64 is the murmur3 64-bit finalizer. Pointer keys are usually aligned
// so their low bits carry little entropy; every input bit affects every
// output bit, in particular the low bits used to pick a bucket.
func mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// hashNoCase hashes the ASCII-lower-cased bytes of s. It equals
// xxhash.Sum64String(lower(s)) without allocating the lowered copy.
func hashNoCase(s string) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [64]byte
	for len(s) > 0 {
		n := copy(buf[:], s)
		for i := 0; i < n; i++ {
			buf[i] = toLower(buf[i])
		}
		_, _ = d.Write(buf[:n])
		s = s[n:]
	}
	return d.Sum64()
}

func toLower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// StrIEq reports whether s1 and s2 are equal ignoring ASCII letter case. It
// is the comparison used by KeyStringNoCase tables. Unlike
// strings.EqualFold it does not apply Unicode case folding, which keeps it
// consistent with the table's case-insensitive hash.
func StrIEq(s1, s2 string) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := 0; i < len(s1); i++ {
		if s1[i] != s2[i] && toLower(s1[i]) != toLower(s2[i]) {
			return false
		}
	}
	return true
}

// intPtrKey converts key to the uintptr used by KeyIntPtr tables.
func intPtrKey(key any) (uintptr, bool) {
	switch k := key.(type) {
	case uintptr:
		return k, true
	case int:
		return uintptr(k), true
	case int8:
		return uintptr(k), true
	case int16:
		return uintptr(k), true
	case int32:
		return uintptr(k), true
	case int64:
		return uintptr(k), true
	case uint:
		return uintptr(k), true
	case uint8:
		return uintptr(k), true
	case uint16:
		return uintptr(k), true
	case uint32:
		return uintptr(k), true
	case uint64:
		return uintptr(k), true
	case unsafe.Pointer:
		return uintptr(k), true
	case nil:
		return 0, false
	}
	if v := reflect.ValueOf(key); v.Kind() == reflect.Pointer {
		return v.Pointer(), true
	}
	return 0, false
}

// stringKey converts key to the string used by the string kinds. A []byte
// key is aliased, not copied: the result shares memory with the caller's
// slice.
func stringKey(key any) (string, bool) {
	switch k := key.(type) {
	case string:
		return k, true
	case []byte:
		return unsafeString(k), true
	}
	return "", false
}
