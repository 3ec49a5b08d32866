package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"reviewhooks/internal/dispatcher"
	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
)

var (
	accent  = lipgloss.Color("#D97706")
	dim     = lipgloss.Color("#6B7280")
	success = lipgloss.Color("#22C55E")
	danger  = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
	okStyle     = lipgloss.NewStyle().Foreground(success)
	failStyle   = lipgloss.NewStyle().Foreground(danger)
)

// renderTable lays out rows in padded columns. Cell widths are measured
// with lipgloss so styled cells line up.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString("\n")
	}
	line(header, &headerStyle)
	for _, row := range rows {
		line(row, nil)
	}
	return b.String()
}

func renderHooks(all []hooks.Hook) string {
	rows := make([][]string, 0, len(all))
	for _, h := range all {
		rows = append(rows, []string{string(h.ID), h.Label})
	}
	return renderTable([]string{"HOOK", "LABEL"}, rows)
}

func renderTargets(targets []model.Target) string {
	if len(targets) == 0 {
		return dimStyle.Render("no targets registered") + "\n"
	}
	rows := make([][]string, 0, len(targets))
	for _, t := range targets {
		state := okStyle.Render("enabled")
		if !t.Enabled {
			state = dimStyle.Render("disabled")
		}
		auth := "-"
		if t.Credentials.HasBasicAuth() {
			auth = "basic"
		}
		if t.Credentials != nil && t.Credentials.Secret != "" {
			if auth == "-" {
				auth = "signed"
			} else {
				auth += "+signed"
			}
		}
		rows = append(rows, []string{
			t.ID,
			string(t.HookID),
			string(t.EffectiveKind()),
			string(t.EffectiveFormat()),
			state,
			auth,
			t.Endpoint,
		})
	}
	return renderTable([]string{"ID", "HOOK", "KIND", "FORMAT", "STATE", "AUTH", "ENDPOINT"}, rows)
}

func renderReport(r dispatcher.Report) string {
	if r.Targets == 0 {
		return dimStyle.Render(fmt.Sprintf("no enabled targets for %s", r.HookID)) + "\n"
	}
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		status := okStyle.Render("delivered")
		detail := ""
		if !res.Success {
			status = failStyle.Render("failed")
			if res.LastError != nil {
				detail = res.LastError.Error()
			}
		}
		rows = append(rows, []string{
			res.TargetID,
			res.Endpoint,
			status,
			fmt.Sprintf("%d", res.Attempts),
			detail,
		})
	}
	out := renderTable([]string{"TARGET", "ENDPOINT", "STATUS", "ATTEMPTS", "ERROR"}, rows)
	summary := fmt.Sprintf("%d/%d delivered", r.Succeeded(), r.Targets)
	if r.Skipped > 0 {
		summary += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return out + dimStyle.Render(summary) + "\n"
}
