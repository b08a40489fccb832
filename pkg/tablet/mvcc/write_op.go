// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package mvcc

import "github.com/tabletdb/tabletdb/pkg/util/hlc"

// WriteOperation ties one write's MVCC lifecycle to a scope, guaranteeing a
// terminal state on every exit path:
//
//	op := mvcc.NewWriteOperation(mgr)
//	defer op.Finish()
//	// ... perform the mutation ...
//	op.StartApplying()
//	// ... apply to storage ...
//	op.Commit()
//
// If the scope exits before Commit, Finish aborts the operation. Note that
// once StartApplying has been called the operation must be committed;
// reaching Finish in the APPLYING state is a lifecycle violation and panics
// like AbortOperation would.
type WriteOperation struct {
	m          *Manager
	hybridTime hlc.HybridTime
	done       bool
}

// NewWriteOperation starts an operation on m and returns its guard.
func NewWriteOperation(m *Manager) *WriteOperation {
	return &WriteOperation{m: m, hybridTime: m.StartOperation()}
}

// NewWriteOperationAtLatest starts a commit-wait operation on m and returns
// its guard. See Manager.StartOperationAtLatest for the clock obligations.
func NewWriteOperationAtLatest(m *Manager) *WriteOperation {
	return &WriteOperation{m: m, hybridTime: m.StartOperationAtLatest()}
}

// HybridTime returns the hybrid time assigned to this operation.
func (op *WriteOperation) HybridTime() hlc.HybridTime {
	return op.hybridTime
}

// StartApplying marks the operation as guaranteed to commit.
func (op *WriteOperation) StartApplying() {
	op.m.StartApplyingOperation(op.hybridTime)
}

// Commit commits the operation.
func (op *WriteOperation) Commit() {
	op.m.CommitOperation(op.hybridTime)
	op.done = true
}

// Finish releases the guard, aborting the operation unless Commit was
// called. It is idempotent and intended for defer.
func (op *WriteOperation) Finish() {
	if !op.done {
		op.done = true
		op.m.AbortOperation(op.hybridTime)
	}
}
