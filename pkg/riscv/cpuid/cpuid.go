package cpuid

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/Manu343726/altpatch/pkg/utils"
)

var ErrUnknownExtension = errors.New("unknown ISA extension")

// Identity is the (vendor, arch, impl) tuple that pins down the errata
// profile of a processor. It is produced once by whoever probes the hardware
// and handed to the patcher as a plain value, never cached by it.
type Identity struct {
	Vendor uint64
	Arch   uint64
	Impl   uint64
}

// JEDEC vendor IDs of the implementations with known errata
const (
	VendorQemuVirt uint64 = 0x000
	VendorAndes    uint64 = 0x31e
	VendorSiFive   uint64 = 0x489
	VendorTHead    uint64 = 0x5b7
)

var vendorNames = map[uint64]string{
	VendorQemuVirt: "qemu-virt",
	VendorAndes:    "andes",
	VendorSiFive:   "sifive",
	VendorTHead:    "thead",
}

// Vendors returns the IDs of all known vendors, sorted
func Vendors() []uint64 {
	return utils.SortedKeys(vendorNames)
}

// VendorName returns a human readable name for a vendor ID, falling back to
// the hex ID for vendors not in the list
func VendorName(vendor uint64) string {
	if name, ok := vendorNames[vendor]; ok {
		return name
	}
	return fmt.Sprintf("0x%03x", vendor)
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (arch: 0x%x, impl: 0x%x)", VendorName(id.Vendor), id.Arch, id.Impl)
}

// Extension identifies an optional ISA capability the patcher can dispatch on
type Extension int

const (
	ExtZba Extension = iota
	ExtZbb
	ExtZbkb
	ExtZbs
	ExtZicbom
	ExtZicboz
	ExtSvpbmt
)

var extensionNames = map[Extension]string{
	ExtZba:    "zba",
	ExtZbb:    "zbb",
	ExtZbkb:   "zbkb",
	ExtZbs:    "zbs",
	ExtZicbom: "zicbom",
	ExtZicboz: "zicboz",
	ExtSvpbmt: "svpbmt",
}

func (e Extension) String() string {
	if name, ok := extensionNames[e]; ok {
		return name
	}
	return fmt.Sprintf("extension(%d)", int(e))
}

// ExtensionNames returns the names of all known extensions, sorted
func ExtensionNames() []string {
	names := utils.Map(utils.Keys(extensionNames), Extension.String)
	slices.Sort(names)
	return names
}

// ExtensionByID resolves the numeric extension ID the patch tables carry
func ExtensionByID(id int) (Extension, bool) {
	ext := Extension(id)
	_, ok := extensionNames[ext]
	return ext, ok
}

// ParseExtension resolves an extension by its lowercase name
func ParseExtension(name string) (Extension, error) {
	for ext, extName := range extensionNames {
		if extName == strings.ToLower(name) {
			return ext, nil
		}
	}
	return 0, utils.MakeError(ErrUnknownExtension, "%q", name)
}

// Provider is the interface the patcher queries for the running processor.
// It is consulted once per dispatch invocation and its answers are expected
// to be stable for the lifetime of the process.
type Provider interface {
	Identity() Identity
	HasExtension(ext Extension) bool
}

// Static is a Provider with fixed answers, built from configuration or test
// fixtures rather than hardware probing
type Static struct {
	ID         Identity
	Extensions map[Extension]bool
}

func (s Static) Identity() Identity {
	return s.ID
}

func (s Static) HasExtension(ext Extension) bool {
	return s.Extensions[ext]
}

// MakeStatic builds a Static provider from an identity and a list of
// extension names. Unknown names are reported, not ignored.
func MakeStatic(id Identity, extensions []string) (Static, error) {
	set := make(map[Extension]bool, len(extensions))

	for _, name := range extensions {
		ext, err := ParseExtension(name)
		if err != nil {
			return Static{}, err
		}
		set[ext] = true
	}

	return Static{ID: id, Extensions: set}, nil
}
