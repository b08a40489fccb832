// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package mvcc

import (
	"github.com/cockroachdb/redact"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tidwall/btree"
)

// Snapshot is an immutable, point-in-time answer to "is the operation at
// hybrid time T committed?". Snapshots are produced by a Manager and are pure
// values from then on: they can be evaluated from any goroutine without
// locks and never change, no matter what the manager does afterward.
//
// The committed set is described by three pieces:
//
//   - every hybrid time below allCommittedBefore is committed;
//   - no hybrid time at or above noneCommittedAtOrAfter is committed;
//   - in between sit the "holes": operations that committed out of order
//     while an earlier operation was still in flight.
type Snapshot struct {
	allCommittedBefore     hlc.HybridTime
	noneCommittedAtOrAfter hlc.HybridTime
	committed              *btree.BTreeG[hlc.HybridTime]
}

func htLess(a, b hlc.HybridTime) bool { return a < b }

func newSnapshot(watermark, upper hlc.HybridTime) Snapshot {
	return Snapshot{
		allCommittedBefore:     watermark,
		noneCommittedAtOrAfter: upper,
		committed:              btree.NewBTreeG[hlc.HybridTime](htLess),
	}
}

// NewSnapshotIncludingAllOperations returns a snapshot that considers every
// hybrid time committed.
func NewSnapshotIncludingAllOperations() Snapshot {
	return newSnapshot(hlc.MaxHybridTime, hlc.MaxHybridTime)
}

// NewSnapshotIncludingNoOperations returns a snapshot that considers no
// hybrid time committed.
func NewSnapshotIncludingNoOperations() Snapshot {
	return newSnapshot(hlc.MinHybridTime, hlc.MinHybridTime)
}

// NewSnapshotAtHybridTime returns the clean snapshot at t: exactly the
// operations below t are committed.
func NewSnapshotAtHybridTime(t hlc.HybridTime) Snapshot {
	return newSnapshot(t, t)
}

// IsCommitted returns whether the operation at hybrid time t is committed in
// this snapshot.
func (s Snapshot) IsCommitted(t hlc.HybridTime) bool {
	if t < s.allCommittedBefore {
		return true
	}
	if t >= s.noneCommittedAtOrAfter {
		return false
	}
	_, ok := s.committed.Get(t)
	return ok
}

// MayHaveCommittedOperationsAtOrAfter returns whether any operation at or
// above t could be committed in this snapshot. Readers use it to skip row
// versions that provably cannot be visible.
func (s Snapshot) MayHaveCommittedOperationsAtOrAfter(t hlc.HybridTime) bool {
	return t < s.noneCommittedAtOrAfter
}

// MayHaveUncommittedOperationsAtOrBefore returns whether any operation at or
// below t could still be uncommitted in this snapshot.
func (s Snapshot) MayHaveUncommittedOperationsAtOrBefore(t hlc.HybridTime) bool {
	if t < s.allCommittedBefore {
		return false
	}
	// When the only committed entry is the watermark itself, the watermark
	// simply had nothing later to advance to: the snapshot is fully clean at
	// that hybrid time and nothing at or before it can be uncommitted.
	if t == s.allCommittedBefore && s.committed.Len() == 1 {
		if _, ok := s.committed.Get(t); ok {
			return false
		}
	}
	return true
}

// IsClean returns whether the snapshot is expressible purely as a cutoff,
// with no out-of-order holes.
func (s Snapshot) IsClean() bool {
	return s.committed.Len() == 0
}

// clone returns an independent copy of the snapshot. The hole set is a
// copy-on-write clone, so this is cheap no matter how many holes there are.
func (s Snapshot) clone() Snapshot {
	return Snapshot{
		allCommittedBefore:     s.allCommittedBefore,
		noneCommittedAtOrAfter: s.noneCommittedAtOrAfter,
		committed:              s.committed.Copy(),
	}
}

// addCommitted records t as committed. Only the owning manager calls this,
// on its current snapshot, under its lock.
func (s *Snapshot) addCommitted(t hlc.HybridTime) {
	s.committed.Set(t)
	if t.Next() > s.noneCommittedAtOrAfter {
		s.noneCommittedAtOrAfter = t.Next()
	}
}

// coalesceBelow advances the watermark to w and folds every committed entry
// below it into the cutoff. Only the owning manager calls this, under its
// lock; w never moves backward.
func (s *Snapshot) coalesceBelow(w hlc.HybridTime) {
	s.allCommittedBefore = w
	for {
		min, ok := s.committed.Min()
		if !ok || min >= w {
			break
		}
		s.committed.Delete(min)
	}
	if s.committed.Len() == 0 {
		s.noneCommittedAtOrAfter = w
	}
}

func (s Snapshot) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter. The exact shape
// Snapshot[committed={T|T < W or (T in {h1,h2})}] is relied upon by logs and
// tests.
func (s Snapshot) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("Snapshot[committed={T|T < %s", s.allCommittedBefore)
	if s.committed.Len() > 0 {
		w.Printf(" or (T in {")
		first := true
		s.committed.Scan(func(t hlc.HybridTime) bool {
			if !first {
				w.Printf(",")
			}
			first = false
			w.Printf("%s", t)
			return true
		})
		w.Printf("})")
	}
	w.Printf("}]")
}
