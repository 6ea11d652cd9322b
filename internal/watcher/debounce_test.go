// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_FiresOnceAfterQuietPeriod(t *testing.T) {
	var fired atomic.Int32

	d := NewDebouncer(50 * time.Millisecond)

	// A burst of rearms for the same key collapses to one firing.
	for i := 0; i < 10; i++ {
		d.Debounce("binary", func() {
			fired.Add(1)
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	var a, b atomic.Int32

	d := NewDebouncer(50 * time.Millisecond)
	d.Debounce("a", func() { a.Add(1) })
	d.Debounce("b", func() { b.Add(1) })

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestDebouncer_Cancel(t *testing.T) {
	var fired atomic.Int32

	d := NewDebouncer(50 * time.Millisecond)
	d.Debounce("binary", func() { fired.Add(1) })
	d.Cancel("binary")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestDebouncer_StopDropsEverything(t *testing.T) {
	var fired atomic.Int32

	d := NewDebouncer(50 * time.Millisecond)
	d.Debounce("a", func() { fired.Add(1) })
	d.Debounce("b", func() { fired.Add(1) })
	d.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
