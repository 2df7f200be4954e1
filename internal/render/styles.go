package render

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	DriftBlue = lipgloss.Color("#38BDF8")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	NameStyle = lipgloss.NewStyle().
			Foreground(White)

	BranchStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	IDStyle = lipgloss.NewStyle().
		Foreground(LightGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(DriftBlue).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	TrashedStyle = lipgloss.NewStyle().
			Foreground(Red)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)
)
