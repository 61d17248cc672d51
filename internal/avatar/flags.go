package avatar

import "math/bits"

// Flags is the replicated per-avatar bitfield. Multi-bit fields are read and
// written through Field/SetField so the packing stays in one place.
type Flags uint32

const (
	FlagActive    Flags = 1 << 0
	FlagWalking   Flags = 1 << 1
	FlagUTurn     Flags = 1 << 2
	FlagHasTarget Flags = 1 << 3

	// MaskTarget holds the locked target's slot index.
	MaskTarget Flags = 0xF << 4
)

// Field extracts the value stored under mask.
func Field(f, mask Flags) uint32 {
	return uint32(f&mask) >> bits.TrailingZeros32(uint32(mask))
}

// SetField stores v under mask. Bits of v that do not fit are dropped.
func SetField(f, mask Flags, v uint32) Flags {
	shift := bits.TrailingZeros32(uint32(mask))
	return f&^mask | Flags(v<<shift)&mask
}

func (f Flags) Has(b Flags) bool { return f&b == b }

func (f *Flags) Set(b Flags, on bool) {
	if on {
		*f |= b
	} else {
		*f &^= b
	}
}

// Target returns the locked target slot.
func (f Flags) Target() (int, bool) {
	if !f.Has(FlagHasTarget) {
		return 0, false
	}
	return int(Field(f, MaskTarget)), true
}

func (f *Flags) SetTarget(slot int) {
	*f = SetField(*f, MaskTarget, uint32(slot)) | FlagHasTarget
}

func (f *Flags) ClearTarget() {
	*f = SetField(*f, MaskTarget, 0) &^ FlagHasTarget
}
