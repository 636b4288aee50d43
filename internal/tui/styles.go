package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#E05A47")
	ColorGreen   = lipgloss.Color("#5FAF5F")
	ColorYellow  = lipgloss.Color("#E3B341")
	ColorForest  = lipgloss.Color("#7FB77E")
	ColorGray    = lipgloss.Color("#777777")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorForest)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	BusyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	DoneStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	TranscriptStyle = lipgloss.NewStyle().
			Foreground(ColorWhite)

	PlaceholderStyle = lipgloss.NewStyle().
				Foreground(ColorGray).
				Italic(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorForest)

	EditingStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Underline(true)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	PanelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorForest)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorForest).
			Bold(true)

	InitialsStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Background(ColorDimGray).
			Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	LevelGreenStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	LevelYellowStyle = lipgloss.NewStyle().
				Foreground(ColorYellow)

	LevelGrayStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)
