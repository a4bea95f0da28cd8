package ui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#FF0000")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorBlue    = lipgloss.Color("#5F87FF")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
)

// Base styles reused by UI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	StatusStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ConnectedDotStyle = lipgloss.NewStyle().
				Foreground(ColorGreen).
				Bold(true)

	PendingDotStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	OfflineDotStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	AgentLabelStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	CandidateLabelStyle = lipgloss.NewStyle().
				Foreground(ColorBlue).
				Bold(true)

	CategoryBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorMagenta)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	InputPromptStyle = lipgloss.NewStyle().
				Foreground(ColorCyan).
				Bold(true)

	InputDisabledStyle = lipgloss.NewStyle().
				Foreground(ColorDimGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	ScoreHighStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ScoreMidStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	ScoreLowStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	LiveBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ScrollBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorYellow).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	CompletionStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)
)

// ScoreStyle picks a color for a 0-5 answer score.
func ScoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 4:
		return ScoreHighStyle
	case score >= 3:
		return ScoreMidStyle
	default:
		return ScoreLowStyle
	}
}
