package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette. Colors adapt to light and dark terminals; they are named after
// what they mark on a fiscal device rather than after their hue.
var (
	StampColor    = lipgloss.AdaptiveColor{Light: "#1D4E89", Dark: "#5B9BE0"} // Headers, borders, table headings
	PrintedColor  = lipgloss.AdaptiveColor{Light: "#1E7B34", Dark: "#4CC26E"} // Receipt printed, finished states
	RejectedColor = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F2726B"} // Device errors, failed states
	InFlightColor = lipgloss.AdaptiveColor{Light: "#9A5B00", Dark: "#F0B43C"} // Exchange under way, warnings
	FaintColor    = lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#8A8A8A"} // Labels, pending states
	InkColor      = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F2F2F2"} // Body text
)

// Width bounds for rendered output. Receipt lines are short, so anything
// past MaxContentWidth only adds blank border.
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 96
)

// Exchange state markers, also used for the final verdict
const (
	StateMarkerDone    = "✓"
	StateMarkerActive  = "●"
	StateMarkerPending = "·"
	SuccessMarker      = StateMarkerDone
	FailureMarker      = "✗"
)

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Header styles: title ("PRINT RECEIPT"), command path and the device
// parameters underneath
var (
	HeaderTitleStyle      = fg(InkColor).Bold(true).PaddingLeft(2)
	HeaderCommandStyle    = fg(FaintColor).PaddingLeft(2)
	HeaderParamKeyStyle   = fg(FaintColor).PaddingLeft(2)
	HeaderParamValueStyle = fg(InkColor)
)

// Progress styles, one per exchange state class
var (
	ProgressLabelStyle = fg(InkColor).PaddingLeft(2)
	StateDoneStyle     = fg(PrintedColor)
	StateActiveStyle   = fg(InFlightColor)
	StatePendingStyle  = fg(FaintColor)
	StateNoteStyle     = fg(FaintColor).Italic(true)
)

// Result styles
var (
	SuccessTitleStyle = fg(PrintedColor).Bold(true)
	ErrorTitleStyle   = fg(RejectedColor).Bold(true)
	ErrorMessageStyle = fg(RejectedColor)
	ResultKeyStyle    = fg(FaintColor).Width(15)
	ResultValueStyle  = fg(InkColor)

	TroubleshootingTitleStyle = fg(FaintColor).Bold(true)
	TroubleshootingItemStyle  = fg(FaintColor)

	// Verbose dumps of the request JSON
	DetailTitleStyle   = fg(FaintColor).Bold(true)
	DetailContentStyle = fg(InkColor)

	TableHeaderStyle = fg(StampColor).Bold(true).PaddingRight(2)
	TableCellStyle   = fg(InkColor).PaddingRight(2)
)

// GetTerminalWidth returns the stdout width clamped to the supported range
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil, width < MinTerminalWidth:
		return MinTerminalWidth
	case width > MaxContentWidth:
		return MaxContentWidth
	}
	return width
}

// box is a bordered block filling width, less its own border
func box(border lipgloss.Border, color lipgloss.TerminalColor, width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(border).
		BorderForeground(color).
		Width(width - 2)
}

// HeaderBorderStyle frames the command header
func HeaderBorderStyle(width int) lipgloss.Style {
	return box(lipgloss.RoundedBorder(), StampColor, width)
}

// SuccessBoxStyle frames a printed receipt or other success
func SuccessBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.DoubleBorder(), PrintedColor, width).Padding(0, 2)
}

// ErrorBoxStyle frames a failed exchange
func ErrorBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.DoubleBorder(), RejectedColor, width).Padding(0, 2)
}

// WarningBoxStyle frames warnings and confirmation prompts
func WarningBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.DoubleBorder(), InFlightColor, width).Padding(0, 2)
}

// DetailBoxStyle frames verbose request dumps, two columns narrower than the
// surrounding output
func DetailBoxStyle(width int) lipgloss.Style {
	return box(lipgloss.RoundedBorder(), FaintColor, width-2).Padding(0, 1)
}

// TroubleshootingBoxStyle frames the hints under an error, indented inside
// the error box
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	inner := width - 12
	if inner < 40 {
		inner = 40
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(FaintColor).
		Width(inner).
		Padding(0, 1).
		MarginLeft(3)
}

// RenderHorizontalDivider draws a line of char in the stamp color
func RenderHorizontalDivider(width int, char string) string {
	if width < 1 {
		width = 1
	}
	return fg(StampColor).Render(strings.Repeat(char, width))
}
