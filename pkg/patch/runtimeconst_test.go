package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/altpatch/pkg/riscv/insn"
)

// placeholder words as emitted for a rv64 pointer load: lui/lui/addiw/addiw
const (
	luiA0   uint32 = 0x89abd537 // lui a0, 0x89abd
	luiA1   uint32 = 0x012345b7 // lui a1, 0x1234
	addiwA0 uint32 = 0xdef5051b // addiw a0, a0, -0x211
	addiwA1 uint32 = 0x5675859b // addiw a1, a1, 0x567
	srliA0  uint32 = 0x00c55513 // srli a0, a0, 12
)

const constTableAddr uint64 = 0xa000_0000

// ptrFixture64 builds a region with one rv64 pointer placeholder at site
// and a one-record table located at constTableAddr
func ptrFixture64(site uint64) (Region, ConstTable) {
	region := nopText(testBase, 16)
	copy(region.Text[site-testBase:], wordsOf(luiA0, luiA1, addiwA0, addiwA1))

	table := ConstTable{
		Symbol:  "dentry_hashtable",
		Kind:    ConstPtr,
		Addr:    constTableAddr,
		Offsets: []int32{int32(int64(site - constTableAddr))},
	}

	return region, table
}

func TestFixupConstPtr64(t *testing.T) {
	site := testBase + 0x10
	region, table := ptrFixture64(site)
	patcher := recorderOver(region)

	const value uint64 = 0x0000_0001_2345_6789
	FixupConst(patcher, table, value, insn.XLen64)

	words := []uint32{
		region.Word(site),
		region.Word(site + 4),
		region.Word(site + 8),
		region.Word(site + 12),
	}
	assert.Equal(t, value, insn.DecodePtr(words, insn.XLen64))
	assert.Equal(t, value, DecodeConstSite(patcher, table, 0, insn.XLen64))

	// the fetch path was invalidated once, over the full 4-instruction span
	require.Len(t, patcher.invalidated, 1)
	assert.Equal(t, site, patcher.invalidated[0].addr)
	assert.Equal(t, 16, patcher.invalidated[0].length)

	// surrounding words are untouched
	assert.Equal(t, insn.Nop, region.Word(site-4))
	assert.Equal(t, insn.Nop, region.Word(site+16))
}

func TestFixupConstPtr64WriteOrder(t *testing.T) {
	site := testBase + 0x10
	region, table := ptrFixture64(site)
	patcher := recorderOver(region)

	FixupConst(patcher, table, 0xdeadbeef_12345678, insn.XLen64)

	// within each pair the addi word lands before its lui word, so a
	// concurrent reader never pairs a new lui with a stale addi
	require.Len(t, patcher.applied, 4)
	assert.Equal(t, site+8, patcher.applied[0].addr)
	assert.Equal(t, site, patcher.applied[1].addr)
	assert.Equal(t, site+12, patcher.applied[2].addr)
	assert.Equal(t, site+4, patcher.applied[3].addr)
}

func TestFixupConstPtr32(t *testing.T) {
	site := testBase + 0x8
	region := nopText(testBase, 8)
	copy(region.Text[site-testBase:], wordsOf(luiA0, 0xdef50513))

	table := ConstTable{
		Symbol:  "page_offset",
		Kind:    ConstPtr,
		Addr:    constTableAddr,
		Offsets: []int32{int32(int64(site - constTableAddr))},
	}

	patcher := recorderOver(region)
	FixupConst(patcher, table, 0xdeadbeef, insn.XLen32)

	assert.Equal(t, uint64(0xdeadbeef), DecodeConstSite(patcher, table, 0, insn.XLen32))

	require.Len(t, patcher.invalidated, 1)
	assert.Equal(t, 8, patcher.invalidated[0].length)
}

func TestFixupConstShift(t *testing.T) {
	site := testBase + 0x4
	region := nopText(testBase, 4)
	copy(region.Text[site-testBase:], wordsOf(srliA0))

	table := ConstTable{
		Symbol:  "hash_shift",
		Kind:    ConstShift,
		Addr:    constTableAddr,
		Offsets: []int32{int32(int64(site - constTableAddr))},
	}

	patcher := recorderOver(region)
	FixupConst(patcher, table, 44, insn.XLen64)

	// only the low 5 bits of the value fit the field
	assert.Equal(t, uint64(44&0x1f), DecodeConstSite(patcher, table, 0, insn.XLen64))
	assert.Equal(t, srliA0&0xfe0fffff, region.Word(site)&0xfe0fffff, "bits outside the shamt field changed")

	require.Len(t, patcher.invalidated, 1)
	assert.Equal(t, site, patcher.invalidated[0].addr)
	assert.Equal(t, insn.WordBytes, patcher.invalidated[0].length)
}

func TestFixupConstPatchesEverySite(t *testing.T) {
	region := nopText(testBase, 16)
	sites := []uint64{testBase, testBase + 0x10, testBase + 0x20}
	for _, site := range sites {
		copy(region.Text[site-testBase:], wordsOf(luiA0, luiA1, addiwA0, addiwA1))
	}

	table := ConstTable{
		Symbol: "mem_map",
		Kind:   ConstPtr,
		Addr:   constTableAddr,
	}
	for i, site := range sites {
		record := constTableAddr + uint64(i*4)
		table.Offsets = append(table.Offsets, int32(int64(site-record)))
	}

	patcher := recorderOver(region)
	const value uint64 = 0xffff_ffc0_0000_0000
	FixupConst(patcher, table, value, insn.XLen64)

	for i := range sites {
		assert.Equal(t, value, DecodeConstSite(patcher, table, i, insn.XLen64), "site %d", i)
	}
	assert.Len(t, patcher.invalidated, len(sites))
}

func TestConstTableSiteResolution(t *testing.T) {
	table := ConstTable{
		Addr:    0x1000,
		Offsets: []int32{0x100, -0x20, 8},
	}

	// site = record address + displacement, record i lives at Addr + 4*i
	assert.Equal(t, uint64(0x1100), table.Site(0))
	assert.Equal(t, uint64(0x1000+4-0x20), table.Site(1))
	assert.Equal(t, uint64(0x1000+8+8), table.Site(2))
}

func TestParseConstKind(t *testing.T) {
	kind, err := ParseConstKind("ptr")
	require.NoError(t, err)
	assert.Equal(t, ConstPtr, kind)

	kind, err = ParseConstKind("shift")
	require.NoError(t, err)
	assert.Equal(t, ConstShift, kind)

	_, err = ParseConstKind("jump")
	assert.ErrorIs(t, err, ErrUnknownConstKind)
}
