package cmd

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Manu343726/altpatch/pkg/image"
	"github.com/Manu343726/altpatch/pkg/riscv/cpuid"
)

// runInspectTui browses all patch sites of an image in one scrollable table
func runInspectTui(img *image.Image) error {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0).
		SetSelectable(true, false)
	table.SetTitle(fmt.Sprintf(" patch sites (%s) ", img.Provider.Identity())).SetBorder(true)

	headers := []string{"kind", "selector", "site", "len", "applies"}
	for col, header := range headers {
		table.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	row := 1
	addRow := func(kind, selector string, site uint64, length int, applies bool) {
		appliesText := "-"
		appliesColor := tcell.ColorGray
		if applies {
			appliesText = "yes"
			appliesColor = tcell.ColorGreen
		}

		table.SetCell(row, 0, tview.NewTableCell(kind))
		table.SetCell(row, 1, tview.NewTableCell(selector))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("0x%x", site)).SetTextColor(tcell.ColorAqua))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d", length)))
		table.SetCell(row, 4, tview.NewTableCell(appliesText).SetTextColor(appliesColor))
		row++
	}

	identity := img.Provider.Identity()
	known := cpuid.KnownErrata()

	if img.Vendor != nil {
		for i, entry := range img.Vendor.Entries {
			name, ok := known.Name(uint64(entry.VendorID), int(entry.PatchID))
			if !ok {
				name = fmt.Sprintf("erratum %d?", entry.PatchID)
			}
			selector := fmt.Sprintf("%s/%s", cpuid.VendorName(uint64(entry.VendorID)), name)
			applies := ok && uint64(entry.VendorID) == identity.Vendor
			addRow("vendor", selector, img.Vendor.OldAddr(i), int(entry.AltLen), applies)
		}
	}

	if img.Extension != nil {
		for i, entry := range img.Extension.Entries {
			ext, ok := cpuid.ExtensionByID(int(entry.PatchID))
			selector := fmt.Sprintf("extension %d?", entry.PatchID)
			applies := false
			if ok {
				selector = ext.String()
				applies = img.Provider.HasExtension(ext)
			}
			addRow("extension", selector, img.Extension.OldAddr(i), int(entry.AltLen), applies)
		}
	}

	for _, constant := range img.Constants {
		ct := constant.Table
		for i := range ct.Offsets {
			addRow(ct.Kind.String(), ct.Symbol, ct.Site(i), ct.SiteBytes(img.XLen), true)
		}
	}

	app := tview.NewApplication()
	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(table, true).Run()
}
