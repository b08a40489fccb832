// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import "context"

// Clock is the source of hybrid times. A single Clock instance is shared by
// every component of a node; it is passed explicitly so that tests can
// substitute a LogicalClock.
//
// All implementations are safe for concurrent use.
type Clock interface {
	// Now returns a timestamp strictly greater than every timestamp
	// previously returned by Now or NowLatest, across all goroutines.
	Now() HybridTime

	// NowLatest returns a timestamp guaranteed to be at or above any
	// timestamp another node in the cluster could currently generate,
	// assuming bounded clock skew. It may lead the local clock; callers
	// implementing commit-wait must WaitUntilAfter the returned value
	// before exposing results.
	NowLatest() HybridTime

	// Update ratchets the clock forward so that subsequent Now calls
	// return timestamps greater than t. It never moves the clock backward.
	Update(t HybridTime)

	// WaitUntilAfter blocks until the clock is guaranteed to have passed t
	// on every node, or until the context is done.
	WaitUntilAfter(ctx context.Context, t HybridTime) error

	// IsAfter reports whether t is definitely in the past. Non-blocking
	// counterpart of WaitUntilAfter.
	IsAfter(t HybridTime) bool
}
