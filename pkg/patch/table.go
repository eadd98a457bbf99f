package patch

import (
	"encoding/binary"
	"errors"

	"github.com/Manu343726/altpatch/pkg/utils"
)

// Persisted table layout. Both table kinds are flat arrays of fixed-size
// little-endian records with self-relative displacements, the contract with
// the build-time producer: contiguous records per table, no per-record
// fixups needed to relocate a table.
//
// Alternative record, 16 bytes:
//
//	┌───────────┬───────────┬────────┬─────────┬──────────┬──────────┐
//	│   0-3     │   4-7     │  8-9   │  10-11  │  12-13   │  14-15   │
//	│ old (s32) │ alt (s32) │ vendor │ alt_len │ patch_id │ reserved │
//	└───────────┴───────────┴────────┴─────────┴──────────┴──────────┘
//
// Runtime-constant record: a single s32 displacement.

var ErrTruncatedTable = errors.New("truncated patch table")

// ParseAlternatives decodes a packed alternative table stored at addr
func ParseAlternatives(addr uint64, data []byte) (Table, error) {
	if len(data)%EntrySize != 0 {
		return Table{}, utils.MakeError(ErrTruncatedTable,
			"%d bytes is not a whole number of %d byte alternative records", len(data), EntrySize)
	}

	t := Table{
		Addr:    addr,
		Entries: make([]Entry, 0, len(data)/EntrySize),
	}

	for off := 0; off < len(data); off += EntrySize {
		record := data[off : off+EntrySize]
		t.Entries = append(t.Entries, Entry{
			OldOffset: int32(binary.LittleEndian.Uint32(record[0:])),
			AltOffset: int32(binary.LittleEndian.Uint32(record[4:])),
			VendorID:  binary.LittleEndian.Uint16(record[8:]),
			AltLen:    binary.LittleEndian.Uint16(record[10:]),
			PatchID:   binary.LittleEndian.Uint16(record[12:]),
		})
	}

	return t, nil
}

// AppendAlternatives appends the packed form of entries to dst
func AppendAlternatives(dst []byte, entries []Entry) []byte {
	for _, entry := range entries {
		var record [EntrySize]byte
		binary.LittleEndian.PutUint32(record[0:], uint32(entry.OldOffset))
		binary.LittleEndian.PutUint32(record[4:], uint32(entry.AltOffset))
		binary.LittleEndian.PutUint16(record[8:], entry.VendorID)
		binary.LittleEndian.PutUint16(record[10:], entry.AltLen)
		binary.LittleEndian.PutUint16(record[12:], entry.PatchID)
		dst = append(dst, record[:]...)
	}
	return dst
}

// ParseOffsets decodes a packed runtime-constant displacement array
func ParseOffsets(data []byte) ([]int32, error) {
	if len(data)%recordBytes != 0 {
		return nil, utils.MakeError(ErrTruncatedTable,
			"%d bytes is not a whole number of %d byte displacement records", len(data), recordBytes)
	}

	offsets := make([]int32, 0, len(data)/recordBytes)
	for off := 0; off < len(data); off += recordBytes {
		offsets = append(offsets, int32(binary.LittleEndian.Uint32(data[off:])))
	}

	return offsets, nil
}

// AppendOffsets appends the packed form of a displacement array to dst
func AppendOffsets(dst []byte, offsets []int32) []byte {
	for _, offset := range offsets {
		var record [recordBytes]byte
		binary.LittleEndian.PutUint32(record[:], uint32(offset))
		dst = append(dst, record[:]...)
	}
	return dst
}
