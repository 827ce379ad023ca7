// Copyright 2025 The async-lock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

type monotonic struct{}

// Now reads CLOCK_MONOTONIC.
//
// The vDSO makes this a few nanoseconds on common platforms. If the call
// fails (seccomp filters have been seen to do this) the time.Time reading is
// used instead.
func (monotonic) Now() (time.Duration, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return sinceStart(), true
	}
	return time.Duration(ts.Nano()), true
}
