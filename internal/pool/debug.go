//go:build debug

package pool

import (
	"runtime/debug"
)

// debugState remembers where each checked-out instance was acquired and where
// each instance was last released, so leaks and double releases can be traced.
type debugState struct {
	name     string
	acquired map[any]string
	released map[any]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:     name,
		acquired: make(map[any]string),
		released: make(map[any]string),
	}
}

func (d *debugState) recordAcquire(key any) {
	if d == nil || !comparableValue(key) {
		return
	}
	d.acquired[key] = string(debug.Stack())
	delete(d.released, key)
}

func (d *debugState) recordRelease(key any) {
	if d == nil || !comparableValue(key) {
		return
	}
	delete(d.acquired, key)
	d.released[key] = string(debug.Stack())
}

func (d *debugState) lastRelease(key any) string {
	if d == nil || !comparableValue(key) {
		return ""
	}
	return d.released[key]
}

func (d *debugState) activeStacks() []string {
	if d == nil || len(d.acquired) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.acquired))
	for _, stack := range d.acquired {
		out = append(out, stack)
	}
	return out
}
