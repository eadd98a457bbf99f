// Package patch implements runtime rewriting of mapped instruction text:
// vendor/extension alternative patching and runtime-constant fixups, driven
// by build-time side tables.
//
// All semantic work (matching, immediate encoding) happens on plain values;
// the only place bytes of text are touched is the Writer, which models the
// narrow self-modifying-code boundary of the real machinery.
package patch

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Manu343726/altpatch/pkg/riscv/insn"
)

// Region is a span of executable text: the bytes and the virtual base
// address they are mapped at. All patch-site addresses resolve against it.
type Region struct {
	Base uint64
	Text []byte
}

func MakeRegion(base uint64, text []byte) Region {
	return Region{Base: base, Text: text}
}

// End returns the first address past the region
func (r Region) End() uint64 {
	return r.Base + uint64(len(r.Text))
}

// Contains reports whether [addr, addr+length) lies fully inside the region
func (r Region) Contains(addr uint64, length int) bool {
	return addr >= r.Base && addr+uint64(length) <= r.End() && addr+uint64(length) >= addr
}

// index translates an address into an offset into Text. Addresses outside
// the region or not aligned to an instruction word are contract violations
// by the table producer, not runtime conditions, so they panic.
func (r Region) index(addr uint64, length int) int {
	if addr%insn.WordBytes != 0 {
		panic(fmt.Sprintf("patch: address 0x%x is not aligned to the %d byte instruction size", addr, insn.WordBytes))
	}
	if !r.Contains(addr, length) {
		panic(fmt.Sprintf("patch: range [0x%x, 0x%x) is outside text [0x%x, 0x%x)", addr, addr+uint64(length), r.Base, r.End()))
	}
	return int(addr - r.Base)
}

// Word reads the instruction word at addr
func (r Region) Word(addr uint64) uint32 {
	i := r.index(addr, insn.WordBytes)
	return binary.LittleEndian.Uint32(r.Text[i:])
}

// Bytes reads length bytes starting at addr
func (r Region) Bytes(addr uint64, length int) []byte {
	i := r.index(addr, length)
	return r.Text[i : i+length]
}

// InvalidateFunc makes freshly written instructions visible to the fetch
// path of the affected range. A nil function models text with no instruction
// cache to maintain.
type InvalidateFunc func(addr uint64, length int)

// CodePatcher is the capability the dispatchers and the fixup engine patch
// text through. Writer is the canonical implementation; tests interpose
// recording wrappers to observe write traffic.
type CodePatcher interface {
	// Word reads the current instruction word at addr
	Word(addr uint64) uint32

	// Bytes reads length bytes of current text starting at addr
	Bytes(addr uint64, length int) []byte

	// Write stores instruction words without touching the fetch path.
	// Callers are expected to Invalidate the full span afterwards.
	Write(addr uint64, insns []byte)

	// Apply stores instruction words and invalidates their span
	Apply(addr uint64, insns []byte)

	// ApplySynchronized is Apply under the text modification lock
	ApplySynchronized(addr uint64, insns []byte)

	// Invalidate flushes the instruction fetch path for [addr, addr+length)
	Invalidate(addr uint64, length int)
}

// Writer overwrites instruction words of a Region in place.
//
// Each aligned instruction word is stored in one operation, so a concurrent
// fetch never observes a torn instruction. A multi-word write is NOT atomic
// as a unit: concurrent execution may observe a mix of old and new words
// across instruction boundaries. Callers either patch while the site cannot
// be executing, or pick replacement sequences that stay benign at every
// instruction-boundary cut point.
//
// Lock is the text modification lock shared by everything that patches the
// same region set. It is injected rather than process-global so independent
// regions (and tests over synthetic buffers) can have independent domains.
type Writer struct {
	Region Region
	Lock   *sync.Mutex
	Flush  InvalidateFunc
	Log    *slog.Logger
}

var _ CodePatcher = (*Writer)(nil)

// MakeWriter builds a Writer over a region with its own text lock
func MakeWriter(region Region) *Writer {
	return &Writer{
		Region: region,
		Lock:   &sync.Mutex{},
	}
}

func (w *Writer) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

// Word reads the current instruction word at addr
func (w *Writer) Word(addr uint64) uint32 {
	return w.Region.Word(addr)
}

// Bytes reads length bytes of current text starting at addr
func (w *Writer) Bytes(addr uint64, length int) []byte {
	return w.Region.Bytes(addr, length)
}

// Write stores insns at addr, one aligned instruction word per store. The
// length must be a whole number of instruction words. The fetch path is not
// invalidated, callers do that once over the full patched span.
func (w *Writer) Write(addr uint64, insns []byte) {
	if len(insns)%insn.WordBytes != 0 {
		panic(fmt.Sprintf("patch: %d patch bytes are not a whole number of %d byte instructions", len(insns), insn.WordBytes))
	}

	i := w.Region.index(addr, len(insns))
	for off := 0; off < len(insns); off += insn.WordBytes {
		word := binary.LittleEndian.Uint32(insns[off:])
		// one aligned word-sized store per instruction
		binary.LittleEndian.PutUint32(w.Region.Text[i+off:], word)
	}
}

// WriteWord stores a single instruction word at addr
func (w *Writer) WriteWord(addr uint64, word uint32) {
	var buf [insn.WordBytes]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	w.Write(addr, buf[:])
}

// Apply stores insns at addr and invalidates the written span
func (w *Writer) Apply(addr uint64, insns []byte) {
	w.logger().Debug("patching text", "addr", fmt.Sprintf("0x%x", addr), "len", len(insns))
	w.Write(addr, insns)
	w.Invalidate(addr, len(insns))
}

// ApplySynchronized applies insns under the text modification lock, so two
// patchers never race on overlapping bytes
func (w *Writer) ApplySynchronized(addr uint64, insns []byte) {
	w.Lock.Lock()
	defer w.Lock.Unlock()
	w.Apply(addr, insns)
}

// Invalidate flushes the instruction fetch path for the patched span
func (w *Writer) Invalidate(addr uint64, length int) {
	if w.Flush != nil {
		w.Flush(addr, length)
	}
}
