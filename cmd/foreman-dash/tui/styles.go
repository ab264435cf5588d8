package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorBg      = lipgloss.Color("#000000")
	ColorFg      = lipgloss.Color("#C0C0C0")
	ColorPrimary = lipgloss.Color("#00AFFF")
	ColorDim     = lipgloss.Color("#585858")
	ColorOK      = lipgloss.Color("#00D75F")
	ColorWarn    = lipgloss.Color("#FFAF00")
	ColorError   = lipgloss.Color("#FF5F5F")
)

var (
	StylePaneBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim)

	StylePaneBorderFocus = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDim)

	StyleSelected = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	StyleNormal = lipgloss.NewStyle().
			Foreground(ColorFg)

	StyleRunning = lipgloss.NewStyle().
			Foreground(ColorOK).
			Bold(true)

	StyleStopped = lipgloss.NewStyle().
			Foreground(ColorWarn).
			Bold(true)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)

	StyleFooterSegment = lipgloss.NewStyle().
				Background(lipgloss.Color("#262626")).
				Foreground(ColorFg).
				Padding(0, 1)
)

// statusStyle picks the color for a worker status string.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "WORKING":
		return StyleRunning
	case "ERROR":
		return StyleError
	case "STOPPED":
		return StyleStopped
	default:
		return StyleNormal
	}
}
