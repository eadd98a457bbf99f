package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Manu343726/altpatch/pkg/image"
	"github.com/Manu343726/altpatch/pkg/patch"
	"github.com/Manu343726/altpatch/pkg/riscv/cpuid"
)

var (
	inspectOverlaps bool
	inspectTui      bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image.yaml>",
	Short: "Show the patch tables of an image",
	Long: `Loads an image description and prints its alternative tables and
runtime-constant tables with resolved site addresses, together with the
values currently encoded at each constant site.

With --overlaps the vendor table is additionally checked for same-vendor
records patching overlapping byte ranges, which a well-formed table producer
must never emit.

Example:
  altpatch inspect image.yaml
  altpatch inspect image.yaml --overlaps
  altpatch inspect image.yaml --tui`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	RootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectOverlaps, "overlaps", false, "Check the vendor table for overlapping records")
	inspectCmd.Flags().BoolVar(&inspectTui, "tui", false, "Browse the tables interactively")
}

func runInspect(cmd *cobra.Command, args []string) error {
	img, err := image.Load(args[0])
	if err != nil {
		return err
	}

	if inspectTui {
		return runInspectTui(img)
	}

	identity := img.Provider.Identity()
	colorHeader.Printf("Image %s\n", args[0])
	fmt.Printf("  text: %s + %d bytes, rv%d\n", colorAddr.Sprintf("0x%x", img.Region.Base), len(img.Region.Text), img.XLen)
	fmt.Printf("  identity: %s\n", identity)

	writer := patch.MakeWriter(img.Region)

	if img.Vendor != nil {
		colorHeader.Println("Vendor alternatives:")
		printVendorTable(*img.Vendor, identity)

		if inspectOverlaps {
			if err := patch.CheckOverlaps(*img.Vendor); err != nil {
				return err
			}
			colorSuccess.Println("  no overlapping records")
		}
	}

	if img.Extension != nil {
		colorHeader.Println("Extension alternatives:")
		printExtensionTable(*img.Extension, img.Provider)
	}

	for _, constant := range img.Constants {
		table := constant.Table
		colorHeader.Printf("Constant %s (%s), value 0x%x:\n", table.Symbol, table.Kind, constant.Value)

		for i := range table.Offsets {
			current := patch.DecodeConstSite(writer, table, i, img.XLen)
			fmt.Printf("  site %d at %s: currently %s\n",
				i,
				colorAddr.Sprintf("0x%x", table.Site(i)),
				colorHex.Sprintf("0x%x", current))
		}
	}

	return nil
}

func printVendorTable(t patch.Table, identity cpuid.Identity) {
	known := cpuid.KnownErrata()

	for i, entry := range t.Entries {
		name, ok := known.Name(uint64(entry.VendorID), int(entry.PatchID))
		if !ok {
			name = colorWarning.Sprintf("unknown erratum %d", entry.PatchID)
		}

		marker := colorSkip.Sprint("-")
		if uint64(entry.VendorID) == identity.Vendor {
			marker = colorMatch.Sprint("*")
		}

		fmt.Printf("  %s [%d] %s/%s: %s <- %s (%d bytes)\n",
			marker, i, cpuid.VendorName(uint64(entry.VendorID)), name,
			colorAddr.Sprintf("0x%x", t.OldAddr(i)),
			colorAddr.Sprintf("0x%x", t.AltAddr(i)),
			entry.AltLen)
	}
}

func printExtensionTable(t patch.Table, provider cpuid.Provider) {
	for i, entry := range t.Entries {
		ext, known := cpuid.ExtensionByID(int(entry.PatchID))

		name := colorWarning.Sprintf("unknown extension %d", entry.PatchID)
		marker := colorSkip.Sprint("-")
		if known {
			name = ext.String()
			if provider.HasExtension(ext) {
				marker = colorMatch.Sprint("*")
			}
		}

		fmt.Printf("  %s [%d] %s: %s <- %s (%d bytes)\n",
			marker, i, name,
			colorAddr.Sprintf("0x%x", t.OldAddr(i)),
			colorAddr.Sprintf("0x%x", t.AltAddr(i)),
			entry.AltLen)
	}
}
