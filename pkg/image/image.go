// Package image loads YAML descriptions of synthetic text images: a text
// blob, the patch tables that target it, the processor identity to dispatch
// with and the constant values to bake in. The build-time linker machinery
// produces all of this for free in the real system; the CLI and the test
// harness get it from these files instead.
package image

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Manu343726/altpatch/pkg/patch"
	"github.com/Manu343726/altpatch/pkg/riscv/cpuid"
	"github.com/Manu343726/altpatch/pkg/riscv/insn"
	"github.com/Manu343726/altpatch/pkg/utils"
)

var (
	ErrBadImage = errors.New("invalid image description")
)

// Image is a loaded description, converted to the library types
type Image struct {
	XLen     insn.XLen
	Region   patch.Region
	Provider cpuid.Static

	// Vendor and Extension are the alternative tables, nil when absent
	Vendor    *patch.Table
	Extension *patch.Table

	Constants []Constant
}

// Constant couples a runtime-constant table with the value to bake in
type Constant struct {
	Table patch.ConstTable
	Value uint64
}

// raw yaml document shapes

type imageDoc struct {
	XLen       int           `yaml:"xlen"`
	Base       uint64        `yaml:"base"`
	Size       int           `yaml:"size"`
	Text       string        `yaml:"text"`
	Identity   identityDoc   `yaml:"identity"`
	Extensions []string      `yaml:"extensions"`
	Vendor     *altTableDoc  `yaml:"alternatives"`
	Extension  *extTableDoc  `yaml:"extension_alternatives"`
	Constants  []constantDoc `yaml:"constants"`
}

type identityDoc struct {
	Vendor uint64 `yaml:"vendor"`
	Arch   uint64 `yaml:"arch"`
	Impl   uint64 `yaml:"impl"`
}

type altTableDoc struct {
	Addr    uint64        `yaml:"addr"`
	Entries []altEntryDoc `yaml:"entries"`
}

type altEntryDoc struct {
	Vendor  uint64 `yaml:"vendor"`
	Erratum uint16 `yaml:"erratum"`
	Old     uint64 `yaml:"old"`
	Alt     uint64 `yaml:"alt"`
	Len     uint16 `yaml:"len"`
}

type extTableDoc struct {
	Addr    uint64        `yaml:"addr"`
	Entries []extEntryDoc `yaml:"entries"`
}

type extEntryDoc struct {
	Extension string `yaml:"extension"`
	Old       uint64 `yaml:"old"`
	Alt       uint64 `yaml:"alt"`
	Len       uint16 `yaml:"len"`
}

type constantDoc struct {
	Symbol string   `yaml:"symbol"`
	Kind   string   `yaml:"kind"`
	Addr   uint64   `yaml:"addr"`
	Sites  []uint64 `yaml:"sites"`
	Value  uint64   `yaml:"value"`
}

// Load reads and parses an image description file
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image description: %w", err)
	}
	return Parse(data)
}

// Parse decodes an image description document
func Parse(data []byte) (*Image, error) {
	var doc imageDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, utils.MakeError(ErrBadImage, "%v", err)
	}

	img := &Image{}

	switch doc.XLen {
	case 32:
		img.XLen = insn.XLen32
	case 64, 0: // rv64 by default
		img.XLen = insn.XLen64
	default:
		return nil, utils.MakeError(ErrBadImage, "xlen must be 32 or 64, got %d", doc.XLen)
	}

	text, err := parseText(doc)
	if err != nil {
		return nil, err
	}
	img.Region = patch.MakeRegion(doc.Base, text)

	id := cpuid.Identity{Vendor: doc.Identity.Vendor, Arch: doc.Identity.Arch, Impl: doc.Identity.Impl}
	img.Provider, err = cpuid.MakeStatic(id, doc.Extensions)
	if err != nil {
		return nil, utils.MakeError(ErrBadImage, "%v", err)
	}

	if doc.Vendor != nil {
		table, err := convertVendorTable(*doc.Vendor)
		if err != nil {
			return nil, err
		}
		img.Vendor = &table
	}

	if doc.Extension != nil {
		table, err := convertExtensionTable(*doc.Extension)
		if err != nil {
			return nil, err
		}
		img.Extension = &table
	}

	for _, constant := range doc.Constants {
		converted, err := convertConstant(constant)
		if err != nil {
			return nil, err
		}
		img.Constants = append(img.Constants, converted)
	}

	return img, nil
}

// parseText builds the text blob: explicit hex bytes, a nop-filled buffer of
// the requested size, or hex bytes padded with nops up to the size
func parseText(doc imageDoc) ([]byte, error) {
	var text []byte

	if doc.Text != "" {
		cleaned := strings.Join(strings.Fields(doc.Text), "")
		decoded, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, utils.MakeError(ErrBadImage, "text is not valid hex: %v", err)
		}
		text = decoded
	}

	if doc.Size > 0 {
		if doc.Size < len(text) {
			return nil, utils.MakeError(ErrBadImage, "size %d is smaller than the %d text bytes", doc.Size, len(text))
		}
		padded := nopFill(doc.Size)
		copy(padded, text)
		text = padded
	}

	if len(text) == 0 {
		return nil, utils.MakeError(ErrBadImage, "image has no text: set text or size")
	}
	if len(text)%insn.WordBytes != 0 {
		return nil, utils.MakeError(ErrBadImage, "%d text bytes is not a whole number of instructions", len(text))
	}

	return text, nil
}

func nopFill(size int) []byte {
	text := make([]byte, size)
	for off := 0; off+insn.WordBytes <= size; off += insn.WordBytes {
		text[off] = byte(insn.Nop)
		text[off+1] = byte(insn.Nop >> 8)
		text[off+2] = byte(insn.Nop >> 16)
		text[off+3] = byte(insn.Nop >> 24)
	}
	return text
}

func convertVendorTable(doc altTableDoc) (patch.Table, error) {
	table := patch.Table{Addr: doc.Addr, Entries: make([]patch.Entry, 0, len(doc.Entries))}

	for i, entry := range doc.Entries {
		old, err := selfRelative(table.EntryAddr(i), entry.Old)
		if err != nil {
			return patch.Table{}, err
		}
		alt, err := selfRelative(table.EntryAddr(i), entry.Alt)
		if err != nil {
			return patch.Table{}, err
		}
		if entry.Vendor > 0xffff {
			return patch.Table{}, utils.MakeError(ErrBadImage, "vendor ID 0x%x does not fit the 16-bit record field", entry.Vendor)
		}

		table.Entries = append(table.Entries, patch.Entry{
			OldOffset: old,
			AltOffset: alt,
			VendorID:  uint16(entry.Vendor),
			AltLen:    entry.Len,
			PatchID:   entry.Erratum,
		})
	}

	return table, nil
}

func convertExtensionTable(doc extTableDoc) (patch.Table, error) {
	table := patch.Table{Addr: doc.Addr, Entries: make([]patch.Entry, 0, len(doc.Entries))}

	for i, entry := range doc.Entries {
		ext, err := cpuid.ParseExtension(entry.Extension)
		if err != nil {
			return patch.Table{}, utils.MakeError(ErrBadImage, "%v", err)
		}
		old, err := selfRelative(table.EntryAddr(i), entry.Old)
		if err != nil {
			return patch.Table{}, err
		}
		alt, err := selfRelative(table.EntryAddr(i), entry.Alt)
		if err != nil {
			return patch.Table{}, err
		}

		table.Entries = append(table.Entries, patch.Entry{
			OldOffset: old,
			AltOffset: alt,
			AltLen:    entry.Len,
			PatchID:   uint16(ext),
		})
	}

	return table, nil
}

func convertConstant(doc constantDoc) (Constant, error) {
	kind, err := patch.ParseConstKind(doc.Kind)
	if err != nil {
		return Constant{}, utils.MakeError(ErrBadImage, "constant %q: %v", doc.Symbol, err)
	}

	table := patch.ConstTable{
		Symbol:  doc.Symbol,
		Kind:    kind,
		Addr:    doc.Addr,
		Offsets: make([]int32, 0, len(doc.Sites)),
	}

	for i, site := range doc.Sites {
		recordAddr := doc.Addr + uint64(i*insn.WordBytes)
		offset, err := selfRelative(recordAddr, site)
		if err != nil {
			return Constant{}, err
		}
		table.Offsets = append(table.Offsets, offset)
	}

	return Constant{Table: table, Value: doc.Value}, nil
}

// selfRelative converts an absolute address into the signed displacement
// stored in a record located at recordAddr
func selfRelative(recordAddr, target uint64) (int32, error) {
	delta := int64(target - recordAddr)
	if delta != int64(int32(delta)) {
		return 0, utils.MakeError(ErrBadImage,
			"0x%x is too far from its record at 0x%x for a 32-bit displacement", target, recordAddr)
	}
	return int32(delta), nil
}
