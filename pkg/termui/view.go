package termui

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/monsterxx03/binspy/pkg/binary"
)

type viewMode int

const (
	modeSections viewMode = iota
	modeSymbols
)

// Viewer is an interactive browser over a loaded binary: a table of
// sections (or symbols), a hex pane for the selected section, and an
// incremental name filter.
type Viewer struct {
	app        *tview.Application
	bin        *binary.Binary
	table      *tview.Table
	hexView    *tview.TextView
	searchView *tview.InputField
	titleView  *tview.TextView
	flex       *tview.Flex
	mode       viewMode
	filter     string
	hexOpen    bool
}

func NewViewer(bin *binary.Binary) *Viewer {
	app := tview.NewApplication()
	table := tview.NewTable()
	table.SetBorders(false).
		SetFixed(1, 0).
		SetBorder(false)
	table.SetSelectable(true, false)

	v := &Viewer{
		app:   app,
		bin:   bin,
		table: table,
	}
	v.titleView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	v.titleView.SetText(fmt.Sprintf("[yellow]%s[white] %s %s/%d entry=0x%x",
		bin.Path, bin.Type, bin.Arch, bin.Bits, bin.Entry))
	v.hexView = tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	v.hexView.SetBorder(true)
	return v
}

func headerCell(text string, align int) *tview.TableCell {
	return tview.NewTableCell(text).
		SetAlign(align).
		SetTextColor(tcell.ColorYellow).
		SetBackgroundColor(tcell.ColorDarkSlateGray).
		SetSelectable(false)
}

func (v *Viewer) renderSections() {
	v.table.Clear()
	v.table.SetCell(0, 0, headerCell("Name", tview.AlignLeft))
	v.table.SetCell(0, 1, headerCell("Type", tview.AlignCenter))
	v.table.SetCell(0, 2, headerCell("VMA", tview.AlignRight))
	v.table.SetCell(0, 3, headerCell("Size", tview.AlignRight))
	row := 1
	for _, sec := range v.bin.Sections {
		if v.filter != "" && !strings.Contains(sec.Name, v.filter) {
			continue
		}
		color := tcell.ColorWhite
		if sec.Type == binary.SectionCode {
			color = tcell.ColorGreen
		}
		v.table.SetCell(row, 0, tview.NewTableCell(sec.Name).SetTextColor(color))
		v.table.SetCell(row, 1, tview.NewTableCell(sec.Type.String()).SetTextColor(color))
		v.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("0x%x", sec.VMA)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d", sec.Size)).SetAlign(tview.AlignRight))
		row++
	}
}

func (v *Viewer) renderSymbols() {
	v.table.Clear()
	v.table.SetCell(0, 0, headerCell("Name", tview.AlignLeft))
	v.table.SetCell(0, 1, headerCell("Type", tview.AlignCenter))
	v.table.SetCell(0, 2, headerCell("Addr", tview.AlignRight))
	row := 1
	for _, sym := range v.bin.Symbols {
		if v.filter != "" && !strings.Contains(sym.Name, v.filter) {
			continue
		}
		v.table.SetCell(row, 0, tview.NewTableCell(sym.Name))
		v.table.SetCell(row, 1, tview.NewTableCell(sym.Type.String()))
		v.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("0x%x", sym.Addr)).SetAlign(tview.AlignRight))
		row++
	}
}

func (v *Viewer) render() {
	if v.mode == modeSections {
		v.renderSections()
	} else {
		v.renderSymbols()
	}
	v.table.ScrollToBeginning()
}

func (v *Viewer) openHex(row int) {
	if v.mode != modeSections || row < 1 {
		return
	}
	name := v.table.GetCell(row, 0).Text
	sec := v.bin.Section(name)
	if sec == nil || !sec.Loaded() {
		return
	}
	v.hexView.SetTitle(fmt.Sprintf(" %s (%d bytes @ 0x%x) ", sec.Name, sec.Size, sec.VMA))
	v.hexView.SetText(hex.Dump(sec.Data))
	v.hexView.ScrollToBeginning()
	if !v.hexOpen {
		v.flex.AddItem(v.hexView, 0, 2, false)
		v.hexOpen = true
	}
	v.app.SetFocus(v.hexView)
}

func (v *Viewer) closeHex() {
	if v.hexOpen {
		v.flex.RemoveItem(v.hexView)
		v.hexOpen = false
	}
	v.app.SetFocus(v.table)
}

func (v *Viewer) Run() error {
	help := tview.NewTextView().SetDynamicColors(true)
	help.SetText("[yellow]Press [white]q[green] to quit, [white]s[green] to toggle sections/symbols, [white]Enter[green] to hex dump, [white]/[green] to filter, [white]Esc[green] to close panes")

	v.searchView = tview.NewInputField().
		SetLabel("Filter: ").
		SetFieldBackgroundColor(tcell.ColorDefault).
		SetChangedFunc(func(text string) {
			v.filter = text
			v.render()
		}).
		SetDoneFunc(func(key tcell.Key) {
			v.flex.RemoveItem(v.searchView)
			v.app.SetFocus(v.table)
		})

	v.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.titleView, 1, 1, false).
		AddItem(v.table, 0, 1, true).
		AddItem(help, 1, 1, false)

	v.table.SetSelectedFunc(func(row, col int) {
		v.openHex(row)
	})

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if v.app.GetFocus() == v.searchView {
			return event
		}
		if event.Key() == tcell.KeyEsc {
			v.closeHex()
			return nil
		}
		switch event.Rune() {
		case 'q':
			v.app.Stop()
			return nil
		case 's':
			if v.mode == modeSections {
				v.mode = modeSymbols
			} else {
				v.mode = modeSections
			}
			v.closeHex()
			v.render()
			return nil
		case '/':
			v.searchView.SetText(v.filter)
			v.flex.AddItem(v.searchView, 1, 1, false)
			v.app.SetFocus(v.searchView)
			return nil
		}
		return event
	})

	v.render()
	return v.app.SetRoot(v.flex, true).Run()
}
