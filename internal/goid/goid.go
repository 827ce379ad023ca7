// Copyright 2025 The async-lock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package goid reports the ID of the calling goroutine.
//
// IDs are read from the header line of runtime.Stack, so a call costs a
// stack dump (around a microsecond). They are meant for labelling traces and
// reports, never for synchronization.
package goid

import "runtime"

// Get returns the ID of the calling goroutine, or 0 if it could not be read.
func Get() int64 {
	// Only the header line is needed: "goroutine 123 [running]:\n...".
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return Parse(buf[:n])
}

// Parse extracts the goroutine ID from a runtime.Stack header.
//
// Expected format: "goroutine 123 [running]:..."
// Returns 0 if buf does not start with that header.
func Parse(buf []byte) int64 {
	const prefix = "goroutine "

	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var id int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
