package insn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Placeholder instruction words used by the tests, encoded as the real
// placeholders are emitted: lui/addiw pairs loading a0/a1 with the canonical
// placeholder constant 0x89abcdef / 0x1234567.
const (
	luiA0   uint32 = 0x89abd537 // lui a0, 0x89abd
	luiA1   uint32 = 0x012345b7 // lui a1, 0x1234
	addiwA0 uint32 = 0xdef5051b // addiw a0, a0, -0x211
	addiwA1 uint32 = 0x5675859b // addiw a1, a1, 0x567
	addiA0  uint32 = 0xdef50513 // addi a0, a0, -0x211
	srliA0  uint32 = 0x00c55513 // srli a0, a0, 12
)

func TestFixupLuiAddiRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
	}{
		{name: "zero", value: 0},
		{name: "low 12 bits only", value: 0x7ff},
		{name: "low 12 bits with sign bit", value: 0x800},
		{name: "upper 20 bits only", value: 0x12345000},
		{name: "sign bit forces upper compensation", value: 0x89abcdef},
		{name: "all ones", value: 0xffffffff},
		{name: "most significant bit", value: 0x80000000},
		{name: "small value", value: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lui, addi := FixupLuiAddi(luiA0, addiA0, tt.value)
			assert.Equal(t, tt.value, DecodeLuiAddi(lui, addi), "value 0x%08x did not survive the round trip", tt.value)
		})
	}
}

func TestFixupLuiAddiPreservesOperands(t *testing.T) {
	lui, addi := FixupLuiAddi(luiA0, addiA0, 0x12345678)

	// everything below the immediate fields carries opcode and registers
	assert.Equal(t, luiA0&0x00000fff, lui&0x00000fff, "lui opcode/rd changed")
	assert.Equal(t, addiA0&0x000fffff, addi&0x000fffff, "addi opcode/registers changed")
}

func TestFixupLuiAddiPlaceholderConstant(t *testing.T) {
	// re-encoding the constant the placeholders are built from must
	// reproduce the placeholder words bit for bit
	lui, addi := FixupLuiAddi(luiA0, addiA0, 0x89abcdef)

	assert.Equal(t, luiA0, lui)
	assert.Equal(t, addiA0, addi)
}

func TestFixupLuiAddiNops(t *testing.T) {
	tests := []struct {
		name    string
		value   uint32
		nopLui  bool
		nopAddi bool
	}{
		{name: "zero nops both", value: 0, nopLui: true, nopAddi: true},
		{name: "small value nops lui", value: 0x123, nopLui: true},
		{name: "aligned value nops addi", value: 0x7f000, nopAddi: true},
		{name: "full value nops neither", value: 0x12345678},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lui, addi := FixupLuiAddi(luiA0, addiA0, tt.value)

			assert.Equal(t, tt.nopLui, lui == Nop, "lui word: 0x%08x", lui)
			assert.Equal(t, tt.nopAddi, addi == Nop, "addi word: 0x%08x", addi)
			assert.Equal(t, tt.value, DecodeLuiAddi(lui, addi))
		})
	}
}

func TestSplitImmCompensation(t *testing.T) {
	upper, lower := SplitImm(0x89abcdef)

	// the sign-extended lower immediate forces the upper half one step up
	assert.Equal(t, uint32(0x89abd000), upper)
	assert.Equal(t, uint32(0xdef), lower)
}

func TestFixupPtrRoundTrip64(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
	}{
		{name: "spec scenario", value: 0x0000_0001_2345_6789},
		{name: "zero", value: 0},
		{name: "low half only", value: 0x00000000_deadbeef},
		{name: "high half only", value: 0xcafebabe_00000000},
		{name: "all ones", value: 0xffffffff_ffffffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := []uint32{luiA0, luiA1, addiwA0, addiwA1}
			FixupPtr(words, tt.value, XLen64)

			low := uint64(DecodeLuiAddi(words[0], words[2]))
			high := uint64(DecodeLuiAddi(words[1], words[3]))
			assert.Equal(t, tt.value, (high<<32)|low, "recombined halves differ")
			assert.Equal(t, tt.value, DecodePtr(words, XLen64))
		})
	}
}

func TestFixupPtrRoundTrip32(t *testing.T) {
	words := []uint32{luiA0, addiA0}
	FixupPtr(words, 0xdeadbeef, XLen32)

	require.Equal(t, uint64(0xdeadbeef), DecodePtr(words, XLen32))
}

func TestFixupShift(t *testing.T) {
	for amount := uint64(0); amount < 64; amount++ {
		t.Run(fmt.Sprintf("amount %d", amount), func(t *testing.T) {
			word := FixupShift(srliA0, amount)

			// only the low 5 bits fit the field
			assert.Equal(t, uint32(amount&0x1f), Shamt(word))
			// every bit outside bits 20-24 is untouched
			assert.Equal(t, srliA0&0xfe0fffff, word&0xfe0fffff)
		})
	}
}

func TestSignExtend32(t *testing.T) {
	tests := []struct {
		name     string
		value    uint32
		bits     int
		expected uint32
	}{
		{name: "positive 12-bit", value: 0x789, bits: 12, expected: 0x789},
		{name: "negative 12-bit", value: 0xdef, bits: 12, expected: 0xfffffdef},
		{name: "sign bit exactly", value: 0x800, bits: 12, expected: 0xfffff800},
		{name: "high garbage masked by caller contract", value: 0x7, bits: 3, expected: 0xffffffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SignExtend32(tt.value, tt.bits))
		})
	}
}

func TestXLenPtrWords(t *testing.T) {
	assert.Equal(t, 2, XLen32.PtrWords())
	assert.Equal(t, 4, XLen64.PtrWords())
	assert.Equal(t, 8, XLen32.PtrBytes())
	assert.Equal(t, 16, XLen64.PtrBytes())
}
