package link

import "github.com/pkg/errors"

// ARM B/BL/BLX immediate encoding: a signed 24-bit word offset in the low
// bits, condition in bits 28-31. BLX carries the halfword bit H in bit 24.
const (
	branchImmMask  = 0x00ffffff
	branchCondAL   = 0xe
	branchCondNV   = 0xf // unconditional space; BLX when combined with the branch opcode
	branchLinkBit  = 0x01000000
	branchSpanBits = 26
)

// branchDisplacement returns the byte displacement encoded in a B/BL/BLX.
func branchDisplacement(ins uint32) int32 {
	return int32(ins<<8) >> 6
}

// fitsBranch reports whether disp is encodable in the 24-bit word field.
func fitsBranch(disp int32) bool {
	return disp >= -(1<<(branchSpanBits-1)) && disp < 1<<(branchSpanBits-1)
}

// putBranchDisplacement stores a word-aligned byte displacement into ins.
func putBranchDisplacement(ins uint32, disp int32) (uint32, error) {
	if !fitsBranch(disp) {
		return 0, errors.Wrapf(ErrRange, "branch displacement %#x exceeds ±32MB", disp)
	}
	if disp&3 != 0 {
		return 0, errors.Wrapf(ErrRange, "branch displacement %#x is not word aligned", disp)
	}
	return ins&^branchImmMask | uint32(disp>>2)&branchImmMask, nil
}

// patchBranch24 retargets an ARM_RELOC_BR24 instruction. The encoded
// displacement was computed against the unslid image; value is the new
// target (low bit set for Thumb) and slide is the amount the branch itself moves.
//
// Branching to a Thumb target turns BL into BLX, and branching to an ARM
// target turns BLX back into BL.
func patchBranch24(ins uint32, value, slide uint64) (uint32, error) {
	disp := int64(branchDisplacement(ins)) + int64(int32(uint32(value-slide)))
	if disp < -(1<<(branchSpanBits-1)) || disp >= 1<<(branchSpanBits-1) {
		return 0, errors.Wrapf(ErrRange, "branch displacement %#x exceeds ±32MB", disp)
	}
	target := int32(disp)

	cond := ins >> 28
	if value&1 != 0 {
		if cond != branchCondAL && cond != branchCondNV {
			return 0, errors.Wrapf(ErrMalformed, "can't convert conditional branch %#08x to BLX", ins)
		}
		// BLX: cond=NV, H holds bit 1 of the displacement
		ins = ins&0x0effffff | branchCondNV<<28 | uint32(target&2)<<23
		return putBranchDisplacement(ins, target&^3)
	}

	if cond == branchCondNV {
		// BLX to an ARM target becomes BL
		ins = ins&0x0fffffff | branchCondAL<<28 | branchLinkBit
	}
	return putBranchDisplacement(ins, target)
}
