// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"context"
	"sync/atomic"
)

// LogicalClock is a Clock backed by a bare counter with no physical
// component. It is used by tests and by log replay, where timestamps come
// from the replicated log rather than from real time.
type LogicalClock struct {
	now atomic.Uint64
}

var _ Clock = (*LogicalClock)(nil)

// NewLogicalClock returns a logical clock whose first Now call returns
// initial.
func NewLogicalClock(initial HybridTime) *LogicalClock {
	c := &LogicalClock{}
	c.now.Store(uint64(initial.Prev()))
	return c
}

// Now implements Clock.
func (c *LogicalClock) Now() HybridTime {
	return HybridTime(c.now.Add(1))
}

// NowLatest implements Clock. A logical clock has no notion of skew, so the
// latest possible timestamp is simply the next one.
func (c *LogicalClock) NowLatest() HybridTime {
	return c.Now()
}

// Update implements Clock.
func (c *LogicalClock) Update(t HybridTime) {
	for {
		cur := c.now.Load()
		if uint64(t) <= cur || c.now.CompareAndSwap(cur, uint64(t)) {
			return
		}
	}
}

// WaitUntilAfter implements Clock. A logical clock only advances when it is
// used, so there is nothing to wait for: replay callers ratchet it with
// Update instead.
func (c *LogicalClock) WaitUntilAfter(ctx context.Context, t HybridTime) error {
	return nil
}

// IsAfter implements Clock.
func (c *LogicalClock) IsAfter(t HybridTime) bool {
	return uint64(t) <= c.now.Load()
}
