package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// tableStyles is a trimmed set of the styles a live progress table needs:
// just enough to distinguish header, body, and muted/divider text.
type tableStyles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Row    lipgloss.Style
	Muted  lipgloss.Style
}

func defaultTableStyles() tableStyles {
	return tableStyles{
		Title:  lipgloss.NewStyle().Bold(true),
		Header: lipgloss.NewStyle().Bold(true),
		Row:    lipgloss.NewStyle(),
		Muted:  lipgloss.NewStyle().Faint(true),
	}
}

// simpleTable renders a fixed-header, growing-body table sized to its
// widest cell per column, grounded on theRebelliousNerd-codenerd's
// SimpleTable component.
type simpleTable struct {
	Title   string
	Headers []string
	Rows    [][]string
}

func newSimpleTable(title string, headers ...string) *simpleTable {
	return &simpleTable{Title: title, Headers: headers}
}

func (t *simpleTable) setRow(index int, cells ...string) {
	for len(t.Rows) <= index {
		t.Rows = append(t.Rows, make([]string, len(t.Headers)))
	}
	copy(t.Rows[index], cells)
}

func (t *simpleTable) View(styles tableStyles) string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := lipgloss.Width(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	for i, h := range t.Headers {
		sb.WriteString(styles.Header.Copy().Width(widths[i]).Render(h))
		if i < len(t.Headers)-1 {
			sb.WriteString(styles.Muted.Render("|"))
		}
	}
	sb.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w
	}
	total += len(t.Headers) - 1
	sb.WriteString(styles.Muted.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(styles.Row.Copy().Width(widths[i]).Render(cell))
				if i < len(row)-1 {
					sb.WriteString(styles.Muted.Render("|"))
				}
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
