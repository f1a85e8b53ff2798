package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
)

func newDeliveryTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Update", Width: 10},
			{Title: "Type", Width: 14},
			{Title: "Chat", Width: 12},
			{Title: "Att", Width: 3},
			{Title: "When", Width: 10},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return t
}

func deliveryRows(entries []queue.LogEntry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		lastErr := ""
		if e.LastError != nil {
			lastErr = *e.LastError
		}
		rows = append(rows, table.Row{
			statusGlyph(e.Status),
			strconv.FormatInt(e.UpdateID, 10),
			e.UpdateType,
			strconv.FormatInt(e.ChatID, 10),
			strconv.Itoa(e.Attempt),
			formatAgo(time.Since(e.CompletedAt)),
			lastErr,
		})
	}
	return rows
}

func statusGlyph(status queue.Status) string {
	switch status {
	case queue.StatusDelivered:
		return "✅"
	case queue.StatusFailed:
		return "❌"
	case queue.StatusDead:
		return "💀"
	default:
		return "…"
	}
}

func renderDeliveries(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	if len(t.Rows()) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("DELIVERIES"),
			theme.Dim.Render("  No deliveries yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("DELIVERIES"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
