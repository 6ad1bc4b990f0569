package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type ChannelDelegate struct{}

func (d ChannelDelegate) Height() int                               { return 1 }
func (d ChannelDelegate) Spacing() int                              { return 0 }
func (d ChannelDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d ChannelDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(ChannelItem)
	if !ok {
		return
	}
	label := truncate(it.Label, m.Width()-4)
	if index == m.Index() {
		fmt.Fprint(w, StyleItemSelected.Render(label))
		return
	}
	fmt.Fprint(w, StyleItemDimmed.Render(label))
}

type RecordDelegate struct{}

func (d RecordDelegate) Height() int                               { return 1 }
func (d RecordDelegate) Spacing() int                              { return 0 }
func (d RecordDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d RecordDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(RecordItem)
	if !ok {
		return
	}
	rec := it.Record
	level := levelStyle(rec.Level).Render(fmt.Sprintf("%-11s", rec.Level))
	prefix := fmt.Sprintf("%s %s %-18s %6d  ",
		rec.Time.Local().Format("2006-01-02 15:04:05"), level, truncate(rec.Provider, 18), rec.EventID)
	// The level column renders 11 cells wide whatever its styling.
	width := m.Width() - 4 - (19 + 1 + 11 + 1 + 18 + 1 + 6 + 2)
	desc := truncate(oneLine(rec.Description), width)

	if index == m.Index() {
		fmt.Fprint(w, StyleItemSelected.Render(prefix+desc))
		return
	}
	fmt.Fprint(w, StyleItemDimmed.Render(prefix+desc))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
