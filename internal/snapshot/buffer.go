package snapshot

import (
	"errors"
	"fmt"
	"math"

	"github.com/moonduel/server/internal/core/assert"
	"github.com/moonduel/server/internal/geom"
)

// DefaultFrames is the ring size used when none is configured.
const DefaultFrames = 64

var (
	ErrTooOld          = errors.New("snapshot older than buffer window")
	ErrNoData          = errors.New("no snapshot data around requested time")
	ErrNoExtrapolation = errors.New("only one side of requested time is buffered")
)

// noFrame tags a slot that has never been written.
const noFrame int32 = math.MinInt32

// Buffer is a fixed ring of snapshots indexed by frame modulo capacity. A
// slot is valid for a frame only when its stored Frame equals that frame.
type Buffer struct {
	slots     []Snapshot
	latest    int32
	hasLatest bool
}

func NewBuffer(frames int) *Buffer {
	if frames <= 0 {
		frames = DefaultFrames
	}
	b := &Buffer{slots: make([]Snapshot, frames)}
	for i := range b.slots {
		b.slots[i].Frame = noFrame
	}
	return b
}

func (b *Buffer) Cap() int { return len(b.slots) }

// Latest returns the highest frame ever stored.
func (b *Buffer) Latest() (int32, bool) { return b.latest, b.hasLatest }

func (b *Buffer) index(frame int32) int {
	n := int32(len(b.slots))
	i := frame % n
	if i < 0 {
		i += n
	}
	return int(i)
}

// Accepts reports whether Set would take a snapshot for frame.
func (b *Buffer) Accepts(frame int32) bool {
	return !b.hasLatest || int64(frame) > int64(b.latest)-int64(len(b.slots))
}

// Set stores a copy of s in its frame's slot. Writing the same frame twice
// leaves the last write.
func (b *Buffer) Set(s Snapshot) error {
	if !b.Accepts(s.Frame) {
		return assert.NoError(fmt.Errorf("%w: frame %d, latest %d", ErrTooOld, s.Frame, b.latest))
	}
	s.CopyInto(&b.slots[b.index(s.Frame)])
	if !b.hasLatest || s.Frame > b.latest {
		b.latest = s.Frame
		b.hasLatest = true
	}
	return nil
}

// Get returns the raw slot for frame. The result may belong to another
// frame; check its Frame field or call Has first.
func (b *Buffer) Get(frame int32) Snapshot {
	return b.slots[b.index(frame)].Clone()
}

func (b *Buffer) Has(frame int32) bool {
	return b.slots[b.index(frame)].Frame == frame
}

func (b *Buffer) slot(frame int32) *Snapshot {
	s := &b.slots[b.index(frame)]
	if s.Frame != frame {
		return nil
	}
	return s
}

// Lerp writes the state at fractional frame simTime into out, blending the
// nearest buffered frames at or below and at or above it. Nothing is
// extrapolated: if only one side exists the result is ErrNoExtrapolation and
// out is left untouched.
func (b *Buffer) Lerp(simTime float64, out *Snapshot) error {
	if !b.hasLatest {
		return ErrNoData
	}
	lo := b.latest - int32(len(b.slots)) + 1

	var a, c *Snapshot
	start := b.latest
	if simTime < float64(lo) {
		start = lo - 1
	} else if simTime < float64(b.latest) {
		start = int32(math.Floor(simTime))
	}
	for f := start; f >= lo && a == nil; f-- {
		a = b.slot(f)
	}

	start = lo
	if simTime > float64(b.latest) {
		start = b.latest + 1
	} else if simTime > float64(lo) {
		start = int32(math.Ceil(simTime))
	}
	for f := start; f <= b.latest && c == nil; f++ {
		c = b.slot(f)
	}

	switch {
	case a == nil && c == nil:
		return ErrNoData
	case a == nil || c == nil:
		return fmt.Errorf("%w: t=%.3f latest=%d", ErrNoExtrapolation, simTime, b.latest)
	case a.Frame == c.Frame:
		a.CopyInto(out)
		return nil
	}

	t := float32((simTime - float64(a.Frame)) / float64(c.Frame-a.Frame))
	blend(a, c, t, out)
	return nil
}

// blend interpolates continuous fields and holds discrete ones from a. The
// entity set is a's; entities also present in c are moved toward it.
func blend(a, c *Snapshot, t float32, out *Snapshot) {
	ents := out.Entities[:0]
	out.Frame = a.Frame
	for i := range a.Avatars {
		x, y := a.Avatars[i], c.Avatars[i]
		x.Origin = geom.Lerp(x.Origin, y.Origin, t)
		x.Orientation = geom.NormalizeOr(geom.Lerp(x.Orientation, y.Orientation, t), a.Avatars[i].Orientation)
		x.Speed = geom.LerpF(x.Speed, y.Speed, t)
		out.Avatars[i] = x
	}

	j := 0
	for _, e := range a.Entities {
		for j < len(c.Entities) && c.Entities[j].ID < e.ID {
			j++
		}
		if j < len(c.Entities) && c.Entities[j].ID == e.ID {
			o := c.Entities[j]
			e.Origin = geom.Lerp(e.Origin, o.Origin, t)
			e.Orientation = geom.NormalizeOr(geom.Lerp(e.Orientation, o.Orientation, t), e.Orientation)
		}
		ents = append(ents, e)
	}
	out.Entities = ents
}
