package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tuanbt/logscope/internal/eventlog"
)

var (
	// Colors
	ColorBg     = lipgloss.Color("#080808")
	ColorFg     = lipgloss.Color("#D1D1D1")
	ColorNeon   = lipgloss.Color("#00FF9C")
	ColorBlue   = lipgloss.Color("#00E5FF")
	ColorPink   = lipgloss.Color("#FF007A")
	ColorAmber  = lipgloss.Color("#FFB000")
	ColorBorder = lipgloss.Color("#333333")
	ColorDimmed = lipgloss.Color("#666666")

	// Styles
	StyleHeader = lipgloss.NewStyle().
			Background(ColorBorder).
			Foreground(ColorNeon).
			Bold(true).
			Padding(0, 1)

	StylePaneBorder = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder)

	StylePaneBorderFocus = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(ColorNeon)

	StyleItemSelected = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(ColorNeon).
				PaddingLeft(1).
				Foreground(ColorNeon)

	StyleItemDimmed = lipgloss.NewStyle().
			Foreground(ColorFg).
			PaddingLeft(2)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleInputPrefix = lipgloss.NewStyle().
				Foreground(ColorBlue).
				Bold(true)

	StyleStatus = lipgloss.NewStyle().
			Foreground(ColorAmber)

	StyleModal = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorNeon).
			Padding(1, 4).
			Background(ColorBg)

	StyleGridLabel = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorNeon).
			Bold(true).
			Padding(0, 1)

	StyleLevelCritical = lipgloss.NewStyle().Foreground(ColorPink).Bold(true)
	StyleLevelError    = lipgloss.NewStyle().Foreground(ColorPink)
	StyleLevelWarning  = lipgloss.NewStyle().Foreground(ColorAmber)
	StyleLevelInfo     = lipgloss.NewStyle().Foreground(ColorBlue)
	StyleLevelVerbose  = lipgloss.NewStyle().Foreground(ColorDimmed)
)

func levelStyle(l eventlog.Level) lipgloss.Style {
	switch l {
	case eventlog.LevelCritical:
		return StyleLevelCritical
	case eventlog.LevelError:
		return StyleLevelError
	case eventlog.LevelWarning:
		return StyleLevelWarning
	case eventlog.LevelInformation:
		return StyleLevelInfo
	default:
		return StyleLevelVerbose
	}
}
