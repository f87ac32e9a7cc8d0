package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"
)

// JSON writes results as an indented JSON document.
func JSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Results []Result `json:"results"`
	}{Results: results}); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

type column struct {
	title string
	right bool
}

var tableColumns = []column{
	{title: "STRESSOR"},
	{title: "STATUS"},
	{title: "BOGO OPS", right: true},
	{title: "BOGO/S", right: true},
	{title: "RESTARTS", right: true},
	{title: "TIMEOUTS", right: true},
	{title: "ELAPSED", right: true},
}

// Table writes a summary table followed by the per-kind rates of each
// stressor. Colors are used only when w is a terminal.
func Table(w io.Writer, results []Result) error {
	renderer := lipgloss.NewRenderer(w)
	header := renderer.NewStyle().Bold(true)
	dim := renderer.NewStyle().Faint(true)
	statusStyles := map[string]lipgloss.Style{
		"success":     renderer.NewStyle().Foreground(lipgloss.Color("2")),
		"failure":     renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		"no_resource": renderer.NewStyle().Foreground(lipgloss.Color("3")),
		"skipped":     renderer.NewStyle().Foreground(lipgloss.Color("3")),
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Stressor,
			r.Status,
			strconv.FormatUint(r.BogoOps, 10),
			strconv.FormatFloat(r.BogoRate(), 'f', 2, 64),
			strconv.Itoa(r.Restarts),
			strconv.FormatUint(r.Timeouts, 10),
			units.HumanDuration(r.Elapsed),
		})
	}

	widths := make([]int, len(tableColumns))
	for i, c := range tableColumns {
		widths[i] = lipgloss.Width(c.title)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := lipgloss.Width(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	cell := func(i int, text string, style lipgloss.Style) string {
		style = style.Width(widths[i] + 2).PaddingRight(2)
		if tableColumns[i].right {
			style = style.Align(lipgloss.Right)
		}
		return style.Render(text)
	}

	var b strings.Builder
	titles := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		titles[i] = cell(i, c.title, header)
	}
	b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, titles...), " "))
	b.WriteByte('\n')
	for ri, row := range rows {
		cells := make([]string, len(row))
		for i, text := range row {
			style := renderer.NewStyle()
			if i == 1 {
				if s, ok := statusStyles[results[ri].Status]; ok {
					style = s
				}
			}
			cells[i] = cell(i, text, style)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		b.WriteByte('\n')
	}

	for _, r := range results {
		if len(r.Rates) == 0 && r.Reason == "" {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(header.Render(r.Stressor))
		b.WriteByte('\n')
		if r.Reason != "" {
			b.WriteString("  " + dim.Render(r.Reason) + "\n")
		}
		for _, rate := range r.Rates {
			fmt.Fprintf(&b, "  %-32s %14.2f\n", rate.Label, rate.Value)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}
