package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/Manu343726/altpatch/pkg/riscv/insn"
	"github.com/Manu343726/altpatch/pkg/utils"
)

var ErrUnknownConstKind = errors.New("unknown runtime constant kind")

// ConstKind selects the instruction shape a runtime-constant table patches
type ConstKind int

const (
	// ConstPtr sites are pointer-load placeholders: one lui+addi pair on
	// rv32, two interleaved pairs on rv64
	ConstPtr ConstKind = iota
	// ConstShift sites are single srli/srliw words with a 5-bit shift amount
	ConstShift
)

var constKindNames = map[ConstKind]string{
	ConstPtr:   "ptr",
	ConstShift: "shift",
}

func (k ConstKind) String() string {
	if name, ok := constKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseConstKind resolves a constant kind by name
func ParseConstKind(name string) (ConstKind, error) {
	for kind, kindName := range constKindNames {
		if kindName == strings.ToLower(name) {
			return kind, nil
		}
	}
	return 0, utils.MakeError(ErrUnknownConstKind, "%q", name)
}

// ConstTable is the per-symbol patch-site table of one runtime constant.
// Each record is a single signed displacement; record i is stored at
// Addr + 4*i and the site it patches is that address plus the displacement,
// so the table relocates as a unit with the text it describes.
type ConstTable struct {
	Symbol  string
	Kind    ConstKind
	Addr    uint64
	Offsets []int32
}

// recordBytes is the stored size of one displacement record
const recordBytes = 4

// Site resolves the address of the first instruction patched by record i
func (t ConstTable) Site(i int) uint64 {
	return t.Addr + uint64(i*recordBytes) + uint64(int64(t.Offsets[i]))
}

// SiteBytes returns the byte span one site of this table occupies
func (t ConstTable) SiteBytes(xlen insn.XLen) int {
	if t.Kind == ConstShift {
		return insn.WordBytes
	}
	return xlen.PtrBytes()
}

// FixupConst bakes value into every site of a runtime-constant table. Sites
// are independent by construction and are patched in table order only for
// determinism, nothing may rely on it.
//
// Run exactly once per symbol, after the real value is known and before any
// re-patching would be needed: patched sites keep working for readers racing
// with the patch (every intermediate old/new instruction mix still executes),
// but a second fixup of the same table with a different value is not
// supported by the placeholder contract.
func FixupConst(p CodePatcher, t ConstTable, value uint64, xlen insn.XLen) {
	for i := range t.Offsets {
		site := t.Site(i)

		switch t.Kind {
		case ConstPtr:
			fixupPtrSite(p, site, value, xlen)
		case ConstShift:
			word := insn.FixupShift(p.Word(site), value)
			p.Apply(site, wordBytes(word))
		default:
			panic(fmt.Sprintf("patch: unknown runtime constant kind %d", t.Kind))
		}
	}
}

// fixupPtrSite rewrites one pointer-load placeholder. The addi word of a
// pair is written before its lui word, and the fetch path is invalidated
// once over the whole placeholder after all words are in place.
func fixupPtrSite(p CodePatcher, site uint64, value uint64, xlen insn.XLen) {
	if xlen == insn.XLen32 {
		fixupPair(p, site, site+insn.WordBytes, uint32(value))
	} else {
		// rv64 placeholders interleave the pairs: lui/lui/addiw/addiw
		fixupPair(p, site, site+2*insn.WordBytes, uint32(value))
		fixupPair(p, site+insn.WordBytes, site+3*insn.WordBytes, uint32(value>>32))
	}

	p.Invalidate(site, xlen.PtrBytes())
}

// fixupPair re-encodes one lui+addi pairing in place
func fixupPair(p CodePatcher, luiAddr, addiAddr uint64, value uint32) {
	lui, addi := insn.FixupLuiAddi(p.Word(luiAddr), p.Word(addiAddr), value)
	p.Write(addiAddr, wordBytes(addi))
	p.Write(luiAddr, wordBytes(lui))
}

// DecodeConstSite reads back the value currently encoded at site i of a
// table, used by inspection tooling to show what a placeholder holds
func DecodeConstSite(p CodePatcher, t ConstTable, i int, xlen insn.XLen) uint64 {
	site := t.Site(i)

	if t.Kind == ConstShift {
		return uint64(insn.Shamt(p.Word(site)))
	}

	words := make([]uint32, xlen.PtrWords())
	for w := range words {
		words[w] = p.Word(site + uint64(w*insn.WordBytes))
	}
	return insn.DecodePtr(words, xlen)
}

func wordBytes(word uint32) []byte {
	var buf [insn.WordBytes]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	return buf[:]
}
