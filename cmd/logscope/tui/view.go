package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/session"
)

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	if m.Width == 0 || !m.Ready {
		return "Initialising..."
	}

	s := m.Session
	channel := s.Channel()
	if channel == eventlog.AllChannels {
		channel = AllLogsLabel
	}
	if channel == "" {
		channel = "-"
	}
	busy := ""
	if s.Busy() {
		busy = " | LOADING"
	}
	headerStr := fmt.Sprintf(" LOGSCOPE | LOG: %s | PAGE: %d | RECORDS: %s | SHOWING: %d/%d | MODES: %s%s ",
		channel, s.PageIndex()+1, FormatCount(s.Count()), len(s.Visible()), len(s.Records()), s.Modes(), busy)
	header := StyleHeader.Width(m.Width).Render(headerStr)

	sidebar := sidebarWidth(m.Width)
	contentHeight := m.Height - 5

	channelBorder, recordBorder := StylePaneBorder, StylePaneBorder
	switch m.FocusArea {
	case FocusChannels:
		channelBorder = StylePaneBorderFocus
	case FocusRecords:
		recordBorder = StylePaneBorderFocus
	}

	channelsPane := channelBorder.Width(sidebar - 2).Height(contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleGridLabel.Background(ColorBlue).Render(" LOGS "),
			m.ChannelList.View(),
		),
	)

	recordsLabel := " RECORDS "
	if s.Modes().Has(session.Monitoring) {
		recordsLabel = " RECORDS [LIVE] "
	}
	var body string
	if len(s.Visible()) == 0 {
		body = StyleDimmed.Render(emptyText(s))
	} else {
		body = m.RecordList.View()
	}
	recordsPane := recordBorder.Width(m.Width - sidebar - 2).Height(contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, StyleGridLabel.Render(recordsLabel), body),
	)

	main := lipgloss.JoinHorizontal(lipgloss.Top, channelsPane, recordsPane)

	// Footer
	var inputLine string
	if m.Mode == ModeInsert {
		inputLine = lipgloss.JoinHorizontal(lipgloss.Center,
			StyleInputPrefix.Render(m.InputKind.prompt()), m.Input.View())
	} else {
		status := m.Notice
		if status == "" {
			status = s.Status()
		}
		inputLine = StyleStatus.Render(" " + status)
	}
	help := " [enter] Open [n/p] Page [m] Monitor [/] Search [f] Filter [t] Since [c] Clear [r] Reload [q] Quit"
	if m.Mode == ModeInsert {
		help = " [enter] Apply [esc] Cancel"
	}
	footer := lipgloss.JoinVertical(lipgloss.Left, inputLine, StyleDimmed.Render(help))

	ui := lipgloss.JoinVertical(lipgloss.Left, header, main, footer)

	if m.ShowModal {
		return m.overlay(StyleModal.Render(m.ModalContent))
	}
	return ui
}

func emptyText(s *session.Controller) string {
	switch {
	case s.Channel() == "":
		return "Select a log on the left."
	case s.Busy():
		return "Loading..."
	case len(s.Records()) > 0:
		return "No records match the current filter."
	default:
		return "No records."
	}
}

func (m Model) overlay(content string) string {
	return lipgloss.Place(m.Width, m.Height,
		lipgloss.Center, lipgloss.Center,
		content,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(ColorBorder),
	)
}
