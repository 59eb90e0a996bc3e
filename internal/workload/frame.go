// Package workload provides sample pooled types and a driver that exercises
// pools with concurrent acquire/use/release cycles.
package workload

import (
	"github.com/google/uuid"

	"github.com/coachpo/objpool/internal/pool"
)

// Frame is a reusable byte buffer with a visibility flag.
type Frame struct {
	ID      uuid.UUID
	Data    []byte
	Visible bool
	Closed  bool
}

// Active reports whether the frame is checked out.
func (f *Frame) Active() bool { return f.Visible }

// NewFrameHooks returns lifecycle callbacks for frames whose buffers start
// with the given capacity.
func NewFrameHooks(capacity int) pool.Hooks[*Frame] {
	if capacity < 0 {
		capacity = 0
	}
	return pool.Hooks[*Frame]{
		Create: func() (*Frame, error) {
			return &Frame{ID: uuid.New(), Data: make([]byte, 0, capacity)}, nil
		},
		OnAcquire: func(f *Frame) {
			f.Visible = true
		},
		OnRelease: func(f *Frame) {
			f.Visible = false
			f.Data = f.Data[:0]
		},
		OnDestroy: func(f *Frame) {
			f.Closed = true
			f.Data = nil
		},
	}
}
