// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdb

import (
	"database/sql/driver"
	"math"
	"math/bits"
	"strconv"
	"time"
)

// OID identifies an object.
type OID uint64

// RootOID is the root object of the store, it is never removed.
const RootOID OID = 0

// Value implements driver.Valuer.
//
// Identifiers are stored in signed 64 bit columns.
func (oid OID) Value() (driver.Value, error) { return int64(oid), nil }

// String returns the hex form used in logs.
func (oid OID) String() string { return "0x" + strconv.FormatUint(uint64(oid), 16) }

// TID identifies a committed transaction. TIDs increase monotonically and
// double as timestamps, see TIDFromTime.
type TID uint64

// MaxTID is the largest TID that fits the signed columns.
const MaxTID TID = math.MaxInt64

// Value implements driver.Valuer.
func (tid TID) Value() (driver.Value, error) { return int64(tid), nil }

// String returns the hex form used in logs.
func (tid TID) String() string { return "0x" + strconv.FormatUint(uint64(tid), 16) }

// TIDFromTime encodes t the way transaction ids are allocated: the high 32
// bits count minutes since 1900-01-01 UTC (with 31 day months), the low 32
// bits hold the fraction of the minute.
func TIDFromTime(t time.Time) TID {
	t = t.UTC()
	minutes := ((((uint64(t.Year())-1900)*12+uint64(t.Month())-1)*31+uint64(t.Day())-1)*24+
		uint64(t.Hour()))*60 + uint64(t.Minute())

	nanos := uint64(t.Second())*uint64(time.Second) + uint64(t.Nanosecond())
	hi, lo := bits.Mul64(nanos, 1<<32)
	fraction, _ := bits.Div64(hi, lo, uint64(time.Minute))

	return TID(minutes<<32 | fraction)
}

// Time decodes the timestamp of tid.
func (tid TID) Time() time.Time {
	hi := uint64(tid) >> 32
	lo := uint64(tid) & math.MaxUint32

	minute := int(hi % 60)
	hi /= 60
	hour := int(hi % 24)
	hi /= 24
	day := int(hi%31) + 1
	hi /= 31
	month := time.Month(hi%12) + 1
	year := int(hi/12) + 1900

	phi, plo := bits.Mul64(lo, uint64(time.Minute))
	nanos := time.Duration(phi<<32 | plo>>32)
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC).Add(nanos)
}

// Next returns the smallest TID that is larger than both tid and the
// encoding of now.
func (tid TID) Next(now time.Time) TID {
	next := TIDFromTime(now)
	if next <= tid {
		next = tid + 1
	}
	return next
}
