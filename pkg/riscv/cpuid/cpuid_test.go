package cpuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtension(t *testing.T) {
	tests := []struct {
		name     string
		expected Extension
	}{
		{name: "zba", expected: ExtZba},
		{name: "zbkb", expected: ExtZbkb},
		{name: "svpbmt", expected: ExtSvpbmt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ParseExtension(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ext)
			assert.Equal(t, tt.name, ext.String())
		})
	}

	// names are matched case insensitively
	ext, err := ParseExtension("ZBA")
	require.NoError(t, err)
	assert.Equal(t, ExtZba, ext)

	_, err = ParseExtension("zfoo")
	assert.ErrorIs(t, err, ErrUnknownExtension)
}

func TestExtensionByID(t *testing.T) {
	ext, ok := ExtensionByID(int(ExtZbb))
	assert.True(t, ok)
	assert.Equal(t, ExtZbb, ext)

	_, ok = ExtensionByID(0x7fff)
	assert.False(t, ok)
}

func TestVendorName(t *testing.T) {
	assert.Equal(t, "sifive", VendorName(VendorSiFive))
	assert.Equal(t, "thead", VendorName(VendorTHead))
	assert.Equal(t, "0x123", VendorName(0x123), "unknown vendors fall back to the hex ID")
}

func TestKnownErrata(t *testing.T) {
	known := KnownErrata()

	assert.Equal(t, 2, known.Count(VendorSiFive))
	assert.Equal(t, 0, known.Count(VendorQemuVirt), "vendors without errata count zero")

	name, ok := known.Name(VendorSiFive, 0)
	require.True(t, ok)
	assert.Equal(t, "cip-453", name)

	_, ok = known.Name(VendorSiFive, known.Count(VendorSiFive))
	assert.False(t, ok, "index past the vendor list must not resolve")

	_, ok = known.Name(VendorSiFive, -1)
	assert.False(t, ok)
}

func TestMakeStatic(t *testing.T) {
	id := Identity{Vendor: VendorTHead, Arch: 0x1, Impl: 0x2}

	provider, err := MakeStatic(id, []string{"zba", "zicbom"})
	require.NoError(t, err)

	assert.Equal(t, id, provider.Identity())
	assert.True(t, provider.HasExtension(ExtZba))
	assert.True(t, provider.HasExtension(ExtZicbom))
	assert.False(t, provider.HasExtension(ExtZbb))

	_, err = MakeStatic(id, []string{"zba", "bogus"})
	assert.ErrorIs(t, err, ErrUnknownExtension)
}

func TestExtensionNamesSorted(t *testing.T) {
	names := ExtensionNames()
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)
}
