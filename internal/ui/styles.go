package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single cyan accent, ANSI 256 codes.
const (
	ColorCyan     = "51"  // primary accent
	ColorCyanDim  = "31"  // inactive stage labels
	ColorGray     = "245" // secondary text
	ColorDarkGray = "238" // borders, separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings
)

// Styles holds the lipgloss styles used by the TUI.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Stage   lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
}

// DefaultStyles returns the styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyanDim)),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
	}
}

// NoColorStyles returns unstyled components for NO_COLOR terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Stage:   lipgloss.NewStyle(),
		Active:  lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Border:  lipgloss.NewStyle(),
	}
}

// GetStyles returns the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
