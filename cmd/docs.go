package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Manu343726/altpatch/pkg/patch"
	"github.com/Manu343726/altpatch/pkg/riscv/cpuid"
	"github.com/Manu343726/altpatch/pkg/utils"
)

var supportedModules = map[string]func() string{
	"patch.stages":     stagesDocString,
	"cpuid.vendors":    vendorsDocString,
	"cpuid.extensions": extensionsDocString,
	"cpuid.errata":     errataDocString,
}

var docsCmd = &cobra.Command{
	Use:   "docs module",
	Short: "Show altpatch documentation",
	Long: `Dumps the documentation of the specified altpatch module.
By default the tool dumps the documentation to stdout, but it can be redirected to a file using the --output flag.

Supported modules:
` + strings.Join(utils.Map(utils.SortedKeys(supportedModules), func(module string) string { return "  " + module }), "\n"),
	Args:      cobra.MatchAll(cobra.OnlyValidArgs, cobra.MaximumNArgs(1), cobra.MinimumNArgs(1)),
	ValidArgs: utils.SortedKeys(supportedModules),
	Run: func(cmd *cobra.Command, args []string) {
		module := args[0]
		outputFile, _ := cmd.Flags().GetString("output")
		if outputFile != "" {
			file, err := os.Create(outputFile)
			if err != nil {
				fmt.Println("Error creating file:", err)
				os.Exit(1)
			}
			defer file.Close()
			fmt.Fprintln(file, supportedModules[module]())
		} else {
			fmt.Println(supportedModules[module]())
		}
	},
}

func init() {
	RootCmd.AddCommand(docsCmd)
	docsCmd.Flags().StringP("output", "o", "", "Output file. If not specified, the documentation is dumped to stdout.")
}

func stagesDocString() string {
	builder := strings.Builder{}
	builder.WriteString("Patching stages, in lifecycle order:\n")
	for _, name := range patch.StageNames() {
		builder.WriteString("  " + name + "\n")
	}
	builder.WriteString("\nNo alternative patching happens at early-boot.")
	return builder.String()
}

func vendorsDocString() string {
	builder := strings.Builder{}
	builder.WriteString("Known vendor IDs:\n")
	for _, vendor := range cpuid.Vendors() {
		builder.WriteString(fmt.Sprintf("  0x%03x  %s\n", vendor, cpuid.VendorName(vendor)))
	}
	return strings.TrimRight(builder.String(), "\n")
}

func extensionsDocString() string {
	return "Known ISA extensions:\n  " + strings.Join(cpuid.ExtensionNames(), "\n  ")
}

func errataDocString() string {
	builder := strings.Builder{}
	builder.WriteString("Known errata, by vendor and erratum index:\n")

	known := cpuid.KnownErrata()
	for _, vendor := range utils.SortedKeys(known) {
		builder.WriteString(fmt.Sprintf("  %s:\n", cpuid.VendorName(vendor)))
		for id, name := range known[vendor] {
			builder.WriteString(fmt.Sprintf("    [%d] %s\n", id, name))
		}
	}

	return strings.TrimRight(builder.String(), "\n")
}
