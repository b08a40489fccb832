// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/util"
	"github.com/tabletdb/tabletdb/pkg/util/log"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
	"github.com/tabletdb/tabletdb/pkg/util/timeutil"
)

// HybridClock is a Clock backed by the wall clock. The physical component
// tracks wall time in microseconds; the logical component disambiguates
// timestamps handed out within the same microsecond. The clock never moves
// backward: if the wall clock regresses (NTP step, VM migration), the
// physical component holds at its high-water mark and the logical component
// keeps the output strictly increasing.
type HybridClock struct {
	// maxOffset bounds the clock skew between any two nodes of the
	// cluster. NowLatest leads the local clock by this much.
	maxOffset time.Duration

	backwardJumpLogEvery util.EveryN

	mu struct {
		syncutil.Mutex
		lastPhysical uint64 // micros
		logical      uint32
	}
}

var _ Clock = (*HybridClock)(nil)

// NewHybridClock returns a hybrid clock that trusts the cluster-wide clock
// skew to stay below maxOffset.
func NewHybridClock(maxOffset time.Duration) *HybridClock {
	return &HybridClock{
		maxOffset:            maxOffset,
		backwardJumpLogEvery: util.Every(10 * time.Second),
	}
}

func physicalNowMicros() uint64 {
	return uint64(timeutil.Now().UnixNano() / 1000)
}

// Now implements Clock.
func (c *HybridClock) Now() HybridTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *HybridClock) nowLocked() HybridTime {
	p := physicalNowMicros()
	if p > c.mu.lastPhysical {
		c.mu.lastPhysical = p
		c.mu.logical = 0
		return HybridTimeFromMicros(p)
	}
	if p < c.mu.lastPhysical && c.backwardJumpLogEvery.ShouldProcess(timeutil.Now()) {
		log.Warningf(context.Background(),
			"wall clock moved backward by %dus; holding hybrid clock at its high-water mark",
			c.mu.lastPhysical-p)
	}
	c.mu.logical++
	if c.mu.logical > logicalMask {
		// Logical component exhausted within one microsecond; borrow from
		// the physical component.
		c.mu.lastPhysical++
		c.mu.logical = 0
	}
	return HybridTimeFromMicrosAndLogical(c.mu.lastPhysical, c.mu.logical)
}

// NowLatest implements Clock.
func (c *HybridClock) NowLatest() HybridTime {
	c.mu.Lock()
	now := c.nowLocked()
	c.mu.Unlock()
	return HybridTimeFromMicros(now.PhysicalValueMicros() + uint64(c.maxOffset/time.Microsecond))
}

// Update implements Clock.
func (c *HybridClock) Update(t HybridTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, l := t.PhysicalValueMicros(), t.LogicalValue()
	if p > c.mu.lastPhysical || (p == c.mu.lastPhysical && l > c.mu.logical) {
		c.mu.lastPhysical, c.mu.logical = p, l
	}
}

// IsAfter implements Clock. t is definitely in the past once the local wall
// clock has reached its physical component; maxOffset bounds how far any
// other node can lag.
func (c *HybridClock) IsAfter(t HybridTime) bool {
	return t.PhysicalValueMicros() <= physicalNowMicros()
}

// WaitUntilAfter implements Clock.
func (c *HybridClock) WaitUntilAfter(ctx context.Context, t HybridTime) error {
	var timer timeutil.Timer
	defer timer.Stop()
	for !c.IsAfter(t) {
		lead := time.Duration(t.PhysicalValueMicros()-physicalNowMicros()) * time.Microsecond
		timer.Reset(lead + time.Microsecond)
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for hybrid time %s to pass", t)
		case <-timer.C:
			timer.Read = true
		}
	}
	return nil
}
