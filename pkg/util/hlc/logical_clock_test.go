// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tabletdb/tabletdb/pkg/util/leaktest"
	"golang.org/x/sync/errgroup"
)

func TestLogicalClockSequence(t *testing.T) {
	defer leaktest.AfterTest(t)()
	c := NewLogicalClock(InitialHybridTime)
	require.Equal(t, HybridTime(1), c.Now())
	require.Equal(t, HybridTime(2), c.Now())
	require.Equal(t, HybridTime(3), c.NowLatest())
}

func TestLogicalClockUpdate(t *testing.T) {
	defer leaktest.AfterTest(t)()
	c := NewLogicalClock(InitialHybridTime)

	c.Update(10)
	require.Equal(t, HybridTime(11), c.Now())

	// Updates below the current value are ignored.
	c.Update(5)
	require.Equal(t, HybridTime(12), c.Now())
}

func TestLogicalClockIsAfter(t *testing.T) {
	defer leaktest.AfterTest(t)()
	c := NewLogicalClock(InitialHybridTime)
	now := c.Now()

	require.True(t, c.IsAfter(now))
	require.False(t, c.IsAfter(now.Next()))

	// A logical clock never waits.
	require.NoError(t, c.WaitUntilAfter(context.Background(), MaxHybridTime.Prev()))
}

func TestLogicalClockConcurrentNow(t *testing.T) {
	defer leaktest.AfterTest(t)()
	c := NewLogicalClock(InitialHybridTime)

	const goroutines = 8
	const readsPerGoroutine = 1000

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			last := MinHybridTime
			for j := 0; j < readsPerGoroutine; j++ {
				now := c.Now()
				if now <= last {
					return errors.Errorf("clock not monotonic: %s after %s", now, last)
				}
				last = now
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every tick was consumed exactly once.
	require.Equal(t, HybridTime(goroutines*readsPerGoroutine+1), c.Now())
}
