package snapshot

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/net/packet"
)

const entityHasParent = 0x01

var errShort = errors.New("snapshot payload truncated")

// Encode appends s to w without an opcode.
func Encode(w *packet.Writer, s *Snapshot) error {
	if len(s.Entities) > math.MaxUint8 {
		return fmt.Errorf("frame %d: %d entities exceeds wire limit", s.Frame, len(s.Entities))
	}
	w.WriteD(s.Frame)
	for i := range s.Avatars {
		a := &s.Avatars[i]
		writeVec(w, a.Origin)
		writeVec(w, a.Orientation)
		w.WriteF(a.Speed)
		w.WriteC(a.State)
		w.WriteD(a.StateStartFrame)
		w.WriteDU(a.Flags)
	}
	w.WriteC(byte(len(s.Entities)))
	for i := range s.Entities {
		e := &s.Entities[i]
		var flags byte
		if e.HasParent {
			flags |= entityHasParent
		}
		w.WriteC(flags)
		w.WriteH(uint16(e.ID))
		if e.HasParent {
			w.WriteH(uint16(e.ParentID))
		}
		writeVec(w, e.Origin)
		writeVec(w, e.Orientation)
		w.WriteH(e.ModelID)
	}
	return nil
}

// EncodePacket builds a complete S_OPCODE_SNAPSHOT packet.
func EncodePacket(s *Snapshot) ([]byte, error) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_SNAPSHOT)
	if err := Encode(w, s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode reads one snapshot from r.
func Decode(r *packet.Reader) (Snapshot, error) {
	var s Snapshot
	s.Frame = r.ReadD()
	for i := range s.Avatars {
		a := &s.Avatars[i]
		a.Origin = readVec(r)
		a.Orientation = readVec(r)
		a.Speed = r.ReadF()
		a.State = r.ReadC()
		a.StateStartFrame = r.ReadD()
		a.Flags = r.ReadDU()
	}
	n := int(r.ReadC())
	if r.Short() {
		return Snapshot{}, errShort
	}
	if n > 0 {
		s.Entities = make([]NetObject, n)
	}
	for i := 0; i < n; i++ {
		e := &s.Entities[i]
		flags := r.ReadC()
		e.ID = int16(r.ReadH())
		if flags&entityHasParent != 0 {
			e.HasParent = true
			e.ParentID = int16(r.ReadH())
		}
		e.Origin = readVec(r)
		e.Orientation = readVec(r)
		e.ModelID = r.ReadH()
	}
	if r.Short() {
		return Snapshot{}, errShort
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func writeVec(w *packet.Writer, v mgl32.Vec3) {
	w.WriteF(v[0])
	w.WriteF(v[1])
	w.WriteF(v[2])
}

func readVec(r *packet.Reader) mgl32.Vec3 {
	return mgl32.Vec3{r.ReadF(), r.ReadF(), r.ReadF()}
}
