package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Confirm displays a warning box on out and asks the user to type
// expected to proceed. It returns true only for an exact match read
// from in.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string, expected string) bool {
	width := GetTerminalWidth()

	lines := []string{
		"",
		StateActiveStyle.Bold(true).Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", title)),
		"",
	}
	bulletStyle := lipgloss.NewStyle().Foreground(InkColor)
	for _, warning := range warnings {
		lines = append(lines, bulletStyle.Render("   • "+warning))
	}
	lines = append(lines, "")

	_, _ = fmt.Fprintln(out, WarningBoxStyle(width).Render(strings.Join(lines, "\n")))
	_, _ = fmt.Fprintln(out)

	promptStyle := lipgloss.NewStyle().
		Foreground(InFlightColor).
		Bold(true)
	_, _ = fmt.Fprint(out, promptStyle.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", expected)))

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		_, _ = fmt.Fprintln(out)
		return false
	}
	_, _ = fmt.Fprintln(out)

	if strings.TrimSpace(input) == expected {
		return true
	}
	_, _ = fmt.Fprintln(out, ErrorMessageStyle.Render("Operation cancelled."))
	return false
}
