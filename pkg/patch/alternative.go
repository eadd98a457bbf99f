package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Manu343726/altpatch/pkg/riscv/cpuid"
	"github.com/Manu343726/altpatch/pkg/utils"
)

var (
	ErrUnknownStage    = errors.New("unknown patching stage")
	ErrOverlappingAlts = errors.New("alternative entries overlap")
)

// Stage is the lifecycle point a dispatch runs at. At StageEarlyBoot no
// patching happens at all: the machinery needed to patch safely (the text
// lock among other things) may itself not be up yet, so the earliest stage
// is a deliberate no-op escape hatch.
type Stage int

const (
	StageEarlyBoot Stage = iota
	StageBoot
	StageModule
)

var stageNames = map[Stage]string{
	StageEarlyBoot: "early-boot",
	StageBoot:      "boot",
	StageModule:    "module",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageNames returns the names of all defined stages
func StageNames() []string {
	return utils.Map([]Stage{StageEarlyBoot, StageBoot, StageModule}, Stage.String)
}

// ParseStage resolves a stage by name
func ParseStage(name string) (Stage, error) {
	for stage, stageName := range stageNames {
		if stageName == strings.ToLower(name) {
			return stage, nil
		}
	}
	return 0, utils.MakeError(ErrUnknownStage, "%q", name)
}

// EntrySize is the byte size of one packed alternative record
const EntrySize = 16

// Entry is one alternative site record, emitted at build time next to the
// code it describes. The two displacements are relative to the address the
// record itself is stored at, so a whole table relocates as a unit.
type Entry struct {
	// OldOffset locates the instruction block to be replaced
	OldOffset int32
	// AltOffset locates the replacement instruction block
	AltOffset int32
	// VendorID selects the vendor (or, in extension tables, the extension)
	// this alternative applies to
	VendorID uint16
	// AltLen is the byte length of the replacement block. Original and
	// replacement conventionally have the same length, so layout is stable.
	AltLen uint16
	// PatchID is the erratum index within the vendor's known errata list,
	// or the extension ID in extension tables
	PatchID uint16
}

// Table is an ordered sequence of alternative records plus the address the
// first record is stored at, needed to resolve the self-relative offsets.
type Table struct {
	Addr    uint64
	Entries []Entry
}

// EntryAddr returns the address record i is stored at
func (t Table) EntryAddr(i int) uint64 {
	return t.Addr + uint64(i*EntrySize)
}

// OldAddr resolves the address of the block record i replaces
func (t Table) OldAddr(i int) uint64 {
	return t.EntryAddr(i) + uint64(int64(t.Entries[i].OldOffset))
}

// AltAddr resolves the address of the replacement block of record i
func (t Table) AltAddr(i int) uint64 {
	return t.EntryAddr(i) + uint64(int64(t.Entries[i].AltOffset))
}

// ApplyVendor walks a vendor alternative table and patches every record
// whose vendor matches the supplied identity, in table order. Non-matching
// records leave their text bytes completely untouched.
//
// A record whose erratum index is not in the known errata list for its
// vendor is skipped with a warning: that index was produced against a newer
// errata list, and misapplying an unknown workaround is worse than running
// the original code. Other records of the table still apply.
//
// Dispatching a table more than once is a caller bug: patched sites are not
// recognized, re-patching them corrupts the replacement.
func ApplyVendor(p CodePatcher, log *slog.Logger, t Table, id cpuid.Identity, known cpuid.Errata, stage Stage) {
	if stage == StageEarlyBoot {
		return
	}

	for i, entry := range t.Entries {
		if uint64(entry.VendorID) != id.Vendor {
			continue
		}

		if int(entry.PatchID) >= known.Count(id.Vendor) {
			log.Warn("erratum not in known errata list, skipping",
				"vendor", cpuid.VendorName(id.Vendor),
				"erratum", entry.PatchID)
			continue
		}

		p.ApplySynchronized(t.OldAddr(i), p.Bytes(t.AltAddr(i), int(entry.AltLen)))
	}
}

// ApplyExtension walks an extension alternative table and patches every
// record whose extension the provider reports, in table order. This is the
// same write path as ApplyVendor with a capability predicate instead of a
// vendor identity: records use PatchID as the extension ID.
//
// Grouped numbered alternatives for one site are expressed as consecutive
// records; the caller orders the group so the preferred candidate comes
// last, since a later matching record overwrites an earlier one.
func ApplyExtension(p CodePatcher, log *slog.Logger, t Table, provider cpuid.Provider, stage Stage) {
	if stage == StageEarlyBoot {
		return
	}

	for i, entry := range t.Entries {
		ext := cpuid.Extension(entry.PatchID)

		if _, known := cpuid.ExtensionByID(int(ext)); !known {
			log.Warn("extension not in known extension list, skipping",
				"extension", entry.PatchID)
			continue
		}

		if !provider.HasExtension(ext) {
			continue
		}

		p.ApplySynchronized(t.OldAddr(i), p.Bytes(t.AltAddr(i), int(entry.AltLen)))
	}
}

// CheckOverlaps reports pairs of records for the same vendor whose old
// ranges overlap. Producers must never emit such tables, two workarounds
// rewriting the same bytes would corrupt each other, but a producer bug is
// cheaper to catch here than to debug from patched text. Meant for table
// validation tooling, not for the dispatch path.
func CheckOverlaps(t Table) error {
	for i := range t.Entries {
		for j := i + 1; j < len(t.Entries); j++ {
			if t.Entries[i].VendorID != t.Entries[j].VendorID {
				continue
			}

			iStart, iEnd := t.OldAddr(i), t.OldAddr(i)+uint64(t.Entries[i].AltLen)
			jStart, jEnd := t.OldAddr(j), t.OldAddr(j)+uint64(t.Entries[j].AltLen)

			if iStart < jEnd && jStart < iEnd {
				return utils.MakeError(ErrOverlappingAlts,
					"records %d and %d of vendor 0x%03x both patch [0x%x, 0x%x)",
					i, j, t.Entries[i].VendorID, max(iStart, jStart), min(iEnd, jEnd))
			}
		}
	}
	return nil
}
