// Copyright 2026 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package hlc provides hybrid logical timestamps and the clocks that
// produce them.
//
// A HybridTime is a 64-bit value combining a physical component (microseconds
// since the Unix epoch) with a logical component that breaks ties between
// events occurring within the same microsecond. Values are totally ordered
// and never observed to move backward by any consumer of a single clock.
package hlc

import (
	"math"
	"strconv"
)

// HybridTime is a totally ordered logical timestamp. The top 52 bits hold the
// physical component in microseconds, the bottom 12 bits the logical
// component. Purely logical clocks treat the whole value as a counter; the
// ordering is the same either way.
type HybridTime uint64

// The number of low-order bits reserved for the logical component.
const bitsForLogical = 12

const logicalMask = (1 << bitsForLogical) - 1

const (
	// MinHybridTime is the lowest possible hybrid time, below every
	// timestamp a clock can produce.
	MinHybridTime HybridTime = 0
	// InitialHybridTime is the first timestamp handed out by a fresh clock.
	InitialHybridTime HybridTime = 1
	// MaxHybridTime is above every timestamp a clock can produce.
	MaxHybridTime HybridTime = math.MaxUint64
)

// FromUint64 converts the external 64-bit representation into a HybridTime.
func FromUint64(v uint64) HybridTime {
	return HybridTime(v)
}

// ToUint64 returns the external 64-bit representation.
func (t HybridTime) ToUint64() uint64 {
	return uint64(t)
}

// HybridTimeFromMicros returns the hybrid time for a physical timestamp in
// microseconds with a zero logical component.
func HybridTimeFromMicros(micros uint64) HybridTime {
	return HybridTime(micros << bitsForLogical)
}

// HybridTimeFromMicrosAndLogical combines a physical and a logical component.
func HybridTimeFromMicrosAndLogical(micros uint64, logical uint32) HybridTime {
	return HybridTime(micros<<bitsForLogical | uint64(logical)&logicalMask)
}

// PhysicalValueMicros returns the physical component in microseconds.
func (t HybridTime) PhysicalValueMicros() uint64 {
	return uint64(t) >> bitsForLogical
}

// LogicalValue returns the logical component.
func (t HybridTime) LogicalValue() uint32 {
	return uint32(uint64(t) & logicalMask)
}

// Next returns the smallest hybrid time greater than t.
func (t HybridTime) Next() HybridTime {
	if t == MaxHybridTime {
		return t
	}
	return t + 1
}

// Prev returns the largest hybrid time smaller than t, or MinHybridTime if
// there is none.
func (t HybridTime) Prev() HybridTime {
	if t == MinHybridTime {
		return t
	}
	return t - 1
}

func (t HybridTime) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// SafeValue implements the redact.SafeValue interface: hybrid times are never
// sensitive and print unredacted in logs.
func (t HybridTime) SafeValue() {}
