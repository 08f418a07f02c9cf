package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderTable lays out rows under headers in aligned columns. Rows
// shorter than headers are padded with empty cells.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, renderRow(headers, widths, TableHeaderStyle))
	for _, row := range rows {
		lines = append(lines, renderRow(row, widths, TableCellStyle))
	}
	return strings.Join(lines, "\n")
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	var b strings.Builder
	b.WriteString("  ")
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if i == len(widths)-1 {
			b.WriteString(style.UnsetPaddingRight().Render(cell))
			break
		}
		b.WriteString(style.Render(cell + strings.Repeat(" ", w-lipgloss.Width(cell))))
	}
	return strings.TrimRight(b.String(), " ")
}
