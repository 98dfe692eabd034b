package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#95E1D3"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	introStyle = lipgloss.NewStyle().PaddingLeft(2)
)

const introWidth = 160

func renderStatus(st refresh.Status) string {
	stamp := st.FinishedAt
	if st.IsLoading {
		stamp = st.StartedAt
	}
	prefix := dimStyle.Render(fmt.Sprintf("[%s #%d]", stamp.Local().Format("15:04:05"), st.Attempt))

	switch {
	case st.IsLoading:
		return prefix + " " + dimStyle.Render("refreshing...")
	case st.Failed():
		return prefix + " " + errorStyle.Render(fmt.Sprintf("refresh failed (%s): %s", st.ErrorKind, st.LastError))
	default:
		n := 0
		if st.LastPayload != nil {
			n = len(st.LastPayload.Items)
		}
		return prefix + " " + okStyle.Render(fmt.Sprintf("synced %d items", n))
	}
}

func renderRecord(r storage.NewsRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(r.Title))
	if r.PublishedAt != "" {
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(r.PublishedAt))
	}
	b.WriteString("  ")
	b.WriteString(dimStyle.Render("#" + r.ID))
	if intro := strings.TrimSpace(r.Introduction); intro != "" {
		b.WriteString("\n")
		b.WriteString(introStyle.Render(shorten(intro, introWidth)))
	}
	return b.String()
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
