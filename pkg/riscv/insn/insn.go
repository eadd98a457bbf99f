package insn

// RISC-V Immediate Patching Codec
//
// This package implements the encoding and decoding of the immediate fields
// the runtime patcher rewrites. Only two instruction shapes are handled:
//
//   - A lui+addi pairing that materializes a 32-bit constant. lui carries the
//     upper 20 bits of the constant in instruction bits 12-31, addi carries
//     the lower 12 bits in instruction bits 20-31. Because addi sign-extends
//     its immediate, the lui half must compensate: the split is
//     lower = sign_extend(value, 12 bits), upper = value - lower.
//
//   - A srli/srliw shift whose 5-bit shift amount lives in instruction
//     bits 20-24.
//
// 64-bit constants are materialized as two independent lui+addiw pairings
// (low and high 32-bit halves); the surrounding code combines the two
// registers, so each half is encoded on its own.
//
// Everything here is pure bit manipulation over instruction words. The codec
// does not validate that the words it is handed really are lui/addi/srli,
// that is a guarantee of the build-time tables that locate the patch sites.

import (
	"github.com/Manu343726/altpatch/pkg/utils"
)

const (
	// WordBytes is the size of one uncompressed RISC-V instruction
	WordBytes = 4

	// Nop is the canonical RISC-V no-op, addi x0, x0, 0
	Nop uint32 = 0x00000013

	// luiImmBit/luiImmWidth locate the upper-immediate field of lui
	luiImmBit   = 12
	luiImmWidth = 20

	// addiImmBit/addiImmWidth locate the immediate field of addi/addiw
	addiImmBit   = 20
	addiImmWidth = 12

	// shamtBit/shamtWidth locate the shift amount of srli/srliw
	shamtBit   = 20
	shamtWidth = 5
)

// XLen selects the width of the target the patched text runs on
type XLen int

const (
	XLen32 XLen = 32
	XLen64 XLen = 64
)

// PtrWords returns the number of instruction words a pointer load occupies:
// one lui+addi pair on rv32, two interleaved pairs on rv64
func (x XLen) PtrWords() int {
	if x == XLen32 {
		return 2
	}
	return 4
}

// PtrBytes returns the byte span of a pointer load
func (x XLen) PtrBytes() int {
	return x.PtrWords() * WordBytes
}

// SignExtend32 sign-extends the low bits of v to a full 32-bit value
func SignExtend32(v uint32, bits int) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// SplitImm splits a 32-bit value into the upper/lower immediates of a
// lui+addi pairing. upper + sign_extend(lower, 12) == value always holds.
func SplitImm(value uint32) (upper, lower uint32) {
	lower = SignExtend32(value, addiImmWidth)
	upper = value - lower
	return upper, lower & utils.AllOnes[uint32](addiImmWidth)
}

// FixupLuiAddi rewrites the immediate fields of a lui+addi pairing so that
// the pair materializes value. Register operands and opcodes of both words
// are preserved. When one half of the split ends up empty the corresponding
// instruction is replaced with a nop instead, which keeps the semantics but
// skips a pointless add/load at run time.
func FixupLuiAddi(lui, addi uint32, value uint32) (uint32, uint32) {
	upper, lower := SplitImm(value)

	if upper != 0 {
		view := utils.CreateBitView(&lui)
		view.Replace(upper>>luiImmBit, luiImmBit, luiImmWidth)
	} else {
		lui = Nop
	}

	if lower != 0 {
		view := utils.CreateBitView(&addi)
		view.Replace(lower, addiImmBit, addiImmWidth)
	} else {
		addi = Nop
	}

	return lui, addi
}

// DecodeLuiAddi recovers the 32-bit value a lui+addi pairing materializes.
// Nops (emitted by FixupLuiAddi for empty halves) contribute zero.
func DecodeLuiAddi(lui, addi uint32) uint32 {
	var upper, lower uint32

	if lui != Nop {
		upper = utils.CreateBitView(&lui).Read(luiImmBit, luiImmWidth) << luiImmBit
	}
	if addi != Nop {
		lower = SignExtend32(utils.CreateBitView(&addi).Read(addiImmBit, addiImmWidth), addiImmWidth)
	}

	return upper + lower
}

// FixupPtr rewrites a pointer-load placeholder in place. words must hold the
// xlen.PtrWords() instruction words of the placeholder, in text order. On
// rv64 the placeholder is emitted as lui/lui/addiw/addiw, so the low half
// lives in words 0 and 2 and the high half in words 1 and 3.
func FixupPtr(words []uint32, value uint64, xlen XLen) {
	if xlen == XLen32 {
		words[0], words[1] = FixupLuiAddi(words[0], words[1], uint32(value))
		return
	}

	words[0], words[2] = FixupLuiAddi(words[0], words[2], uint32(value))
	words[1], words[3] = FixupLuiAddi(words[1], words[3], uint32(value>>32))
}

// DecodePtr recovers the pointer value a patched placeholder materializes
func DecodePtr(words []uint32, xlen XLen) uint64 {
	if xlen == XLen32 {
		return uint64(DecodeLuiAddi(words[0], words[1]))
	}

	low := uint64(DecodeLuiAddi(words[0], words[2]))
	high := uint64(DecodeLuiAddi(words[1], words[3]))
	return (high << 32) | low
}

// FixupShift overwrites the 5-bit shift amount of a srli/srliw word with the
// low 5 bits of amount. All other instruction bits are left untouched. The
// field is 5 bits wide, larger amounts are truncated, not rejected.
func FixupShift(word uint32, amount uint64) uint32 {
	view := utils.CreateBitView(&word)
	view.Replace(uint32(amount), shamtBit, shamtWidth)
	return word
}

// Shamt extracts the shift amount of a srli/srliw word
func Shamt(word uint32) uint32 {
	return utils.CreateBitView(&word).Read(shamtBit, shamtWidth)
}
