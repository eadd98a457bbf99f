package cpuid

// Per-vendor errata registries. The alternative tables identify a workaround
// by (vendor, index) and the dispatcher refuses indices past the end of the
// vendor's list: an out-of-range index means the table was produced against
// a newer errata list than this build knows about.

// Errata maps each vendor to its ordered list of known erratum names. The
// position of a name is its erratum index in the alternative tables.
type Errata map[uint64][]string

// KnownErrata returns the registry of workarounds this build understands
func KnownErrata() Errata {
	return Errata{
		VendorAndes:  {"iocp"},
		VendorSiFive: {"cip-453", "cip-1200"},
		VendorTHead:  {"mae", "pmu"},
	}
}

// Count returns the number of known errata for a vendor, zero for vendors
// without any
func (e Errata) Count(vendor uint64) int {
	return len(e[vendor])
}

// Name returns the name of erratum index id of a vendor
func (e Errata) Name(vendor uint64, id int) (string, bool) {
	list := e[vendor]
	if id < 0 || id >= len(list) {
		return "", false
	}
	return list[id], true
}
