// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package mvcc implements multi-version concurrency control for a tablet.
//
// The Manager assigns every write operation a hybrid time from the node
// clock, tracks which operations have committed, and produces Snapshots that
// readers evaluate lock-free against row versions. Operations move through a
// fixed lifecycle:
//
//	Start -> StartApplying -> Commit
//	Start -> Abort
//
// Any other transition is a bug in the caller and panics; see the comments on
// the individual methods. The manager maintains a watermark (every hybrid
// time below it is committed) that advances whenever the earliest in-flight
// operation resolves, folding contiguous out-of-order commits into it.
//
// During log replay and bootstrap, operations are registered with
// StartOperationAtHybridTime and committed with OfflineCommitOperation, which
// leaves the watermark alone; the replay driver advances it explicitly with
// OfflineAdjustSafeTime once it knows the log position that everything below
// is durable.
package mvcc

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/util/hlc"
	"github.com/tabletdb/tabletdb/pkg/util/syncutil"
)

// opState is the lifecycle state of an in-flight operation.
type opState int8

const (
	// opInFlight: started, but its mutation is not yet guaranteed to
	// replicate. The operation may still abort.
	opInFlight opState = iota
	// opApplying: guaranteed to eventually commit; its write is being
	// applied to storage. The operation can no longer abort.
	opApplying
)

func (s opState) String() string {
	switch s {
	case opInFlight:
		return "IN_FLIGHT"
	case opApplying:
		return "APPLYING"
	default:
		return "UNKNOWN"
	}
}

type waitKind int8

const (
	// waitAllCommitted waiters wake once every operation at or below the
	// target hybrid time has committed.
	waitAllCommitted waitKind = iota
	// waitNoneApplying waiters wake once no operation at or below the
	// target hybrid time remains in the APPLYING state.
	waitNoneApplying
)

// waiter parks a goroutine until its condition holds; the manager closes ch
// under its lock when the condition becomes true.
type waiter struct {
	kind   waitKind
	target hlc.HybridTime
	ch     chan struct{}
}

// Manager is the mutable, thread-safe core of the MVCC subsystem. It owns
// the set of in-flight operations, the committed watermark, and the waiters
// parked on them. All methods are safe for concurrent use.
type Manager struct {
	clock hlc.Clock

	mu struct {
		syncutil.Mutex
		// curSnap is the current committed set, maintained incrementally so
		// TakeSnapshot is a copy, never a rebuild.
		curSnap Snapshot
		// inFlight holds every started-but-unresolved operation.
		inFlight map[hlc.HybridTime]opState
		// earliestInFlight caches the minimum key of inFlight, or
		// hlc.MaxHybridTime when the map is empty.
		earliestInFlight hlc.HybridTime
		// safeTime is the bound at or below which no new operation may
		// start. Online commits push it to the committed hybrid time;
		// replay pushes it via OfflineAdjustSafeTime.
		safeTime hlc.HybridTime
		waiters  []*waiter
	}
}

// NewManager returns a Manager drawing hybrid times from clock. The clock is
// shared with the rest of the node and is never mutated beyond the Clock
// interface.
func NewManager(clock hlc.Clock) *Manager {
	m := &Manager{clock: clock}
	m.mu.curSnap = newSnapshot(hlc.InitialHybridTime, hlc.InitialHybridTime)
	m.mu.inFlight = make(map[hlc.HybridTime]opState)
	m.mu.earliestInFlight = hlc.MaxHybridTime
	m.mu.safeTime = hlc.MinHybridTime
	return m
}

// StartOperation assigns the next hybrid time from the clock and registers
// it as in-flight. Hybrid times returned by successive calls are strictly
// increasing, across all goroutines.
func (m *Manager) StartOperation() hlc.HybridTime {
	for {
		now := m.clock.Now()
		m.mu.Lock()
		ok := m.initOperationLocked(now)
		m.mu.Unlock()
		if ok {
			return now
		}
		// The reading raced with a commit or a replayed operation; take a
		// fresh one.
	}
}

// StartOperationAtLatest is like StartOperation but registers a hybrid time
// at or above anything any node of the cluster could currently produce, for
// commit-wait style external consistency. The returned hybrid time may lead
// the local clock; the caller must WaitUntilAfter it on the clock before
// treating the operation as externally committed.
func (m *Manager) StartOperationAtLatest() hlc.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := m.clock.NowLatest()
	for !m.initOperationLocked(latest) {
		latest = m.clock.NowLatest()
	}
	return latest
}

// StartOperationAtHybridTime registers a caller-supplied hybrid time as
// in-flight without consulting the clock. It is used when replaying
// operations whose order was already fixed by the replicated log. An error
// means the caller violated the replay invariants: the hybrid time was
// already committed, already in flight, or below the safe time.
func (m *Manager) StartOperationAtHybridTime(t hlc.HybridTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.curSnap.IsCommitted(t) {
		return errors.Errorf("hybrid time %s is already committed", t)
	}
	if t <= m.mu.safeTime {
		return errors.Errorf("hybrid time %s is not above the safe time %s", t, m.mu.safeTime)
	}
	if !m.initOperationLocked(t) {
		return errors.Errorf("hybrid time %s is already in flight", t)
	}
	return nil
}

func (m *Manager) initOperationLocked(t hlc.HybridTime) bool {
	if t <= m.mu.safeTime {
		return false
	}
	if _, ok := m.mu.inFlight[t]; ok {
		return false
	}
	if t < m.mu.earliestInFlight {
		m.mu.earliestInFlight = t
	}
	m.mu.inFlight[t] = opInFlight
	return true
}

// StartApplyingOperation transitions t from IN_FLIGHT to APPLYING, asserting
// that its mutation is now guaranteed to eventually commit. Calling it for a
// hybrid time that is not IN_FLIGHT is a bug and panics.
func (m *Manager) StartApplyingOperation(t hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.mu.inFlight[t]
	if !ok {
		panic(errors.AssertionFailedf(
			"cannot mark hybrid time %s as APPLYING: not in the in-flight map", t))
	}
	if state != opInFlight {
		panic(errors.AssertionFailedf(
			"cannot mark hybrid time %s as APPLYING: wrong state: %s", t, state))
	}
	m.mu.inFlight[t] = opApplying
}

// CommitOperation commits t, which must be APPLYING. If t was the earliest
// in-flight operation the watermark advances past every contiguous committed
// run that follows it; otherwise t becomes a hole until the earlier
// operations resolve. Waiters whose condition is now satisfied are woken
// before the lock is released.
func (m *Manager) CommitOperation(t hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.clock.IsAfter(t) {
		panic(errors.AssertionFailedf(
			"trying to commit an operation with a future hybrid time: %s", t))
	}
	wasEarliest := m.commitLocked(t)
	// Hybrid times come from the clock, so nothing new can start at or
	// below t anymore.
	if t > m.mu.safeTime {
		m.mu.safeTime = t
	}
	if wasEarliest {
		m.adjustCleanTimeLocked()
	}
	m.wakeWaitersLocked()
}

// OfflineCommitOperation commits t without attempting to advance the
// watermark. It is used when replaying commits out of real-time order during
// bootstrap, where watermark advancement is the replay driver's explicit
// responsibility via OfflineAdjustSafeTime.
func (m *Manager) OfflineCommitOperation(t hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasEarliest := m.commitLocked(t)
	if wasEarliest && m.mu.safeTime >= t {
		m.adjustCleanTimeLocked()
	}
	m.wakeWaitersLocked()
}

func (m *Manager) commitLocked(t hlc.HybridTime) (wasEarliest bool) {
	state, ok := m.mu.inFlight[t]
	if !ok {
		panic(errors.AssertionFailedf(
			"trying to remove hybrid time which isn't in the in-flight set: %s", t))
	}
	if state != opApplying {
		panic(errors.AssertionFailedf(
			"trying to commit an operation which never entered APPLYING state: %s", t))
	}
	wasEarliest = m.mu.earliestInFlight == t
	delete(m.mu.inFlight, t)
	if wasEarliest {
		m.recomputeEarliestLocked()
	}
	m.mu.curSnap.addCommitted(t)
	return wasEarliest
}

// AbortOperation removes t from the in-flight map without it ever being
// reported committed. Only IN_FLIGHT operations may abort; an APPLYING
// operation is already guaranteed to commit and aborting it panics.
func (m *Manager) AbortOperation(t hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.mu.inFlight[t]
	if !ok {
		panic(errors.AssertionFailedf(
			"trying to remove hybrid time which isn't in the in-flight set: %s", t))
	}
	if state != opInFlight {
		panic(errors.AssertionFailedf(
			"operation with hybrid time %s cannot be aborted in state %s", t, state))
	}
	wasEarliest := m.mu.earliestInFlight == t
	delete(m.mu.inFlight, t)
	if wasEarliest {
		m.recomputeEarliestLocked()
		if m.mu.safeTime >= t {
			m.adjustCleanTimeLocked()
		}
	}
	m.wakeWaitersLocked()
}

// OfflineAdjustSafeTime advances the safe time to t (a no-op if it is
// already at or above t) and re-derives the watermark. Only the replay
// driver calls this.
func (m *Manager) OfflineAdjustSafeTime(t hlc.HybridTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.mu.safeTime {
		m.mu.safeTime = t
	}
	m.adjustCleanTimeLocked()
	m.wakeWaitersLocked()
}

func (m *Manager) recomputeEarliestLocked() {
	min := hlc.MaxHybridTime
	for ts := range m.mu.inFlight {
		if ts < min {
			min = ts
		}
	}
	m.mu.earliestInFlight = min
}

// adjustCleanTimeLocked advances the watermark as far as the in-flight set
// allows. Two cases:
//
//  1. an operation at or below the safe time is still in flight: the
//     watermark can only reach that operation's hybrid time;
//  2. otherwise nothing remains, and nothing new can start, at or below the
//     safe time, so everything up to and including it is resolved.
func (m *Manager) adjustCleanTimeLocked() {
	if len(m.mu.inFlight) > 0 && m.mu.earliestInFlight <= m.mu.safeTime {
		m.mu.curSnap.coalesceBelow(m.mu.earliestInFlight)
	} else {
		m.mu.curSnap.coalesceBelow(m.mu.safeTime.Next())
	}
}

// TakeSnapshot returns the current committed set as an immutable value. It
// never blocks.
func (m *Manager) TakeSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.curSnap.clone()
}

// WaitForCleanSnapshotAtHybridTime blocks until every operation below t has
// committed, then returns the clean snapshot at t. The context deadline
// bounds the wait; on expiry the returned error satisfies HasWaitTimedOut
// and the manager's state is unaffected.
func (m *Manager) WaitForCleanSnapshotAtHybridTime(
	ctx context.Context, t hlc.HybridTime,
) (Snapshot, error) {
	if err := m.clock.WaitUntilAfter(ctx, t); err != nil {
		return Snapshot{}, err
	}
	if err := m.waitFor(ctx, waitAllCommitted, t); err != nil {
		return Snapshot{}, err
	}
	return NewSnapshotAtHybridTime(t), nil
}

// WaitForCleanSnapshot is WaitForCleanSnapshotAtHybridTime at the clock's
// current time.
func (m *Manager) WaitForCleanSnapshot(ctx context.Context) (Snapshot, error) {
	return m.WaitForCleanSnapshotAtHybridTime(ctx, m.clock.Now())
}

// WaitForApplyingOperationsToCommit blocks until every operation currently
// in the APPLYING state has committed. Operations started after the call
// begins, and IN_FLIGHT or aborted ones, are ignored. It returns immediately
// if no operation is APPLYING.
func (m *Manager) WaitForApplyingOperationsToCommit(ctx context.Context) error {
	m.mu.Lock()
	waitFor := hlc.MinHybridTime
	for ts, state := range m.mu.inFlight {
		if state == opApplying && ts > waitFor {
			waitFor = ts
		}
	}
	m.mu.Unlock()
	if waitFor == hlc.MinHybridTime {
		return nil
	}
	return m.waitFor(ctx, waitNoneApplying, waitFor)
}

func (m *Manager) waitFor(ctx context.Context, kind waitKind, t hlc.HybridTime) error {
	w := &waiter{kind: kind, target: t, ch: make(chan struct{})}
	m.mu.Lock()
	if m.waiterSatisfiedLocked(w) {
		m.mu.Unlock()
		return nil
	}
	m.mu.waiters = append(m.mu.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-w.ch:
		// Woken between the deadline firing and reacquiring the lock.
		return nil
	default:
	}
	for i, o := range m.mu.waiters {
		if o == w {
			m.mu.waiters = append(m.mu.waiters[:i], m.mu.waiters[i+1:]...)
			break
		}
	}
	return errors.Wrapf(ctx.Err(), "waiting for hybrid time %s", t)
}

// HasWaitTimedOut returns whether err is a deadline expiry from one of the
// manager's wait methods. Callers typically turn it into a retryable error
// for the client.
func HasWaitTimedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) waiterSatisfiedLocked(w *waiter) bool {
	switch w.kind {
	case waitAllCommitted:
		return m.areAllCommittedLocked(w.target)
	case waitNoneApplying:
		return !m.anyApplyingAtOrBeforeLocked(w.target)
	default:
		return false
	}
}

// wakeWaitersLocked re-checks every parked waiter and wakes the satisfied
// ones. Every state change that could satisfy a waiter calls this before
// releasing the lock.
func (m *Manager) wakeWaitersLocked() {
	kept := m.mu.waiters[:0]
	for _, w := range m.mu.waiters {
		if m.waiterSatisfiedLocked(w) {
			close(w.ch)
		} else {
			kept = append(kept, w)
		}
	}
	for i := len(kept); i < len(m.mu.waiters); i++ {
		m.mu.waiters[i] = nil
	}
	m.mu.waiters = kept
}

// AreAllOperationsCommitted returns whether no operation at or below t is
// still in flight or applying. This is distinct from "is t itself
// committed": the bound can be satisfied while t is a hole.
func (m *Manager) AreAllOperationsCommitted(t hlc.HybridTime) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.areAllCommittedLocked(t)
}

func (m *Manager) areAllCommittedLocked(t hlc.HybridTime) bool {
	if len(m.mu.inFlight) == 0 {
		// Nothing is in flight; t is fully resolved once the clock has
		// passed it, since any new operation gets a later hybrid time.
		return m.clock.IsAfter(t)
	}
	return t < m.mu.earliestInFlight
}

func (m *Manager) anyApplyingAtOrBeforeLocked(t hlc.HybridTime) bool {
	for ts, state := range m.mu.inFlight {
		if state == opApplying && ts <= t {
			return true
		}
	}
	return false
}

// GetMaxSafeTimeToReadAt returns the greatest hybrid time at which a reader
// can take a guaranteed-complete snapshot without blocking. While operations
// remain in flight this is the supremum of the contiguous committed prefix;
// once nothing is in flight it degrades to the current clock time, so
// repeated calls keep advancing even without new writes.
func (m *Manager) GetMaxSafeTimeToReadAt() hlc.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.mu.inFlight) == 0 {
		return m.clock.Now()
	}
	return m.mu.curSnap.allCommittedBefore.Prev()
}

// numWaiters reports the number of parked waiters; tests poll it.
func (m *Manager) numWaiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mu.waiters)
}
