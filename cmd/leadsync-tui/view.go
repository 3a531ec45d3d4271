package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorTitle    = lipgloss.Color("#7aa2f7")
	colorFresh    = lipgloss.Color("#9ece6a")
	colorWarning  = lipgloss.Color("#e0af68")
	colorCritical = lipgloss.Color("#f7768e")
	colorBorder   = lipgloss.Color("#3b4261")
	colorFg       = lipgloss.Color("#c0caf5")
	colorDim      = lipgloss.Color("#565f89")
	colorSelBg    = lipgloss.Color("#283457")
	colorAccent   = lipgloss.Color("#bb9af7")
)

func freshnessColor(status leadsync.FreshnessStatus) lipgloss.Color {
	switch status {
	case leadsync.FreshnessFresh:
		return colorFresh
	case leadsync.FreshnessWarning:
		return colorWarning
	case leadsync.FreshnessCritical:
		return colorCritical
	default:
		return colorDim
	}
}

func (m model) View() string {
	w := m.width
	if w == 0 {
		w = 140
	}
	now := m.now()

	sections := []string{m.renderTitle(w, now), m.renderMetricsBar(w)}
	body := m.renderBoard(w, now)
	if m.pane == paneConversations {
		body = m.renderConversations(w, now)
	}
	if view := m.engine.State.View(); view.SidebarOpen && view.SelectedLead != nil {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, m.renderDetail(*view.SelectedLead, now))
	}
	sections = append(sections, body, m.renderNotices(w))

	helpStyle := lipgloss.NewStyle().Foreground(colorDim).Width(w).Align(lipgloss.Center)
	sections = append(sections, helpStyle.Render(m.help.View(keys)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) renderTitle(w int, now time.Time) string {
	live := lipgloss.NewStyle().Foreground(colorFresh).Render("● live")
	switch {
	case m.closed:
		live = lipgloss.NewStyle().Foreground(colorCritical).Render("● stopped")
	case !m.status.Connected:
		live = lipgloss.NewStyle().Foreground(colorWarning).Render("● polling")
	case !m.status.Healthy():
		live = lipgloss.NewStyle().Foreground(colorWarning).Render("● degraded")
	}
	if m.busy {
		live = m.spinner.View() + " " + live
	}
	titleStyle := lipgloss.NewStyle().
		Bold(true).Foreground(colorTitle).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 2).Width(w - 2).
		Align(lipgloss.Center)
	return titleStyle.Render(fmt.Sprintf("LeadSync  │  %s  │  %s", live, now.Format("15:04:05")))
}

func (m model) renderMetricsBar(w int) string {
	counts := m.freshness.Counts
	parts := []string{
		fmt.Sprintf("Leads: %d", m.rollup.TotalLeads),
		fmt.Sprintf("Conversion: %d%%", m.rollup.ConversionRatePercent),
		fmt.Sprintf("Avg response: %s", leadsync.FormatDuration(time.Duration(m.rollup.AvgResponseTimeSeconds)*time.Second)),
		fmt.Sprintf("Unread: %d", leadsync.UnreadCount(m.conversations)),
		lipgloss.NewStyle().Foreground(colorFresh).Render(fmt.Sprintf("%d fresh", counts[leadsync.FreshnessFresh])),
		lipgloss.NewStyle().Foreground(colorWarning).Render(fmt.Sprintf("%d warning", counts[leadsync.FreshnessWarning])),
		lipgloss.NewStyle().Foreground(colorCritical).Render(fmt.Sprintf("%d critical", counts[leadsync.FreshnessCritical])),
	}
	barStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Width(w - 2).Padding(0, 1)
	return barStyle.Render(strings.Join(parts, "  │  "))
}

func (m model) renderBoard(w int, now time.Time) string {
	if len(m.board) == 0 {
		return lipgloss.NewStyle().Foreground(colorDim).Padding(1, 2).Render("No stages yet.")
	}
	colW := (w - 4) / len(m.board)
	if colW < 22 {
		colW = 22
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(colorFg).Underline(true)
	columns := make([]string, 0, len(m.board))
	for ci, col := range m.board {
		lines := []string{header.Render(fmt.Sprintf("%s (%d)", col.StageName, len(col.Leads)))}
		for ri, lead := range col.Leads {
			status := leadsync.ClassifyLead(lead, now)
			dot := lipgloss.NewStyle().Foreground(freshnessColor(status)).Render("●")
			line := fmt.Sprintf("%s %s", dot, truncate(lead.Name, colW-4))
			sub := lipgloss.NewStyle().Foreground(colorDim).Render("  " + truncate(sourceLabel(lead)+" · "+leadsync.TimeAgo(lead.CreatedAt, now), colW-4))
			entry := line + "\n" + sub
			if ci == m.col && ri == m.row && m.pane == paneBoard {
				entry = lipgloss.NewStyle().Background(colorSelBg).Width(colW - 2).Render(entry)
			}
			lines = append(lines, entry)
		}
		border := colorBorder
		if ci == m.col && m.pane == paneBoard {
			border = colorAccent
		}
		style := lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Width(colW - 2).Padding(0, 1)
		columns = append(columns, style.Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, columns...)
}

func (m model) renderConversations(w int, now time.Time) string {
	if len(m.conversations) == 0 {
		return lipgloss.NewStyle().Foreground(colorDim).Padding(1, 2).Render("No conversations yet.")
	}
	rows := make([]string, 0, len(m.conversations)+1)
	rows = append(rows, lipgloss.NewStyle().Bold(true).Foreground(colorFg).Underline(true).
		Render(fmt.Sprintf(" %-20s %-8s %-10s %s", "LEAD", "CHANNEL", "WHEN", "LAST MESSAGE")))
	for i, conv := range m.conversations {
		name := conv.Lead.Name
		if conv.Unread {
			name = "• " + name
		}
		line := fmt.Sprintf(" %-20s %-8s %-10s %s",
			truncate(name, 20), conv.LastMessage.Channel, leadsync.TimeAgo(conv.LastMessage.SentAt, now),
			truncate(conv.LastMessage.Content, w-44))
		if conv.Unread {
			line = lipgloss.NewStyle().Bold(true).Render(line)
		}
		if i == m.convRow {
			line = lipgloss.NewStyle().Background(colorSelBg).Width(w - 2).Render(line)
		}
		rows = append(rows, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m model) renderDetail(lead leadsync.Lead, now time.Time) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	label := lipgloss.NewStyle().Bold(true).Foreground(colorFg)
	dim := lipgloss.NewStyle().Foreground(colorDim)

	var b strings.Builder
	b.WriteString(title.Render(lead.Name) + "\n")
	fmt.Fprintf(&b, "%s %s\n", label.Render("Stage:"), m.engine.Store.StageName(lead.StageID))
	fmt.Fprintf(&b, "%s %s\n", label.Render("Source:"), sourceLabel(lead))
	if lead.Email != nil {
		fmt.Fprintf(&b, "%s %s\n", label.Render("Email:"), *lead.Email)
	}
	if lead.Phone != nil {
		fmt.Fprintf(&b, "%s %s\n", label.Render("Phone:"), *lead.Phone)
	}
	status := leadsync.ClassifyLead(lead, now)
	fmt.Fprintf(&b, "%s %s\n", label.Render("Freshness:"),
		lipgloss.NewStyle().Foreground(freshnessColor(status)).Render(string(status)))
	if badge := leadsync.ResponseTimeBadge(lead.ResponseTimeSeconds); badge != leadsync.BadgeNone {
		fmt.Fprintf(&b, "%s %s (%s)\n", label.Render("Response:"),
			leadsync.FormatDuration(time.Duration(*lead.ResponseTimeSeconds)*time.Second), badge)
	}

	b.WriteString(title.Render("Messages") + "\n")
	msgs := m.engine.Store.MessagesForLead(lead.ID)
	if len(msgs) == 0 {
		b.WriteString(dim.Render("  none") + "\n")
	}
	start := len(msgs) - 6
	if start < 0 {
		start = 0
	}
	for _, msg := range msgs[start:] {
		arrow := "→"
		if msg.Direction == leadsync.DirectionInbound {
			arrow = "←"
		}
		fmt.Fprintf(&b, "  %s %s %s\n", arrow, truncate(msg.Content, 34), dim.Render(leadsync.TimeAgo(msg.SentAt, now)))
	}

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1).Width(44).
		Render(b.String())
}

func (m model) renderNotices(w int) string {
	var lines []string
	if m.lastErr != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(colorCritical).Render("✗ "+m.lastErr))
	}
	for _, n := range m.notices {
		color := colorFresh
		switch n.Level {
		case leadsync.NoticeError:
			color = colorCritical
		case leadsync.NoticeInfo:
			color = colorTitle
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(color).Render("• "+n.Message))
	}
	if len(lines) == 0 {
		return ""
	}
	return lipgloss.NewStyle().Width(w - 2).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func sourceLabel(lead leadsync.Lead) string {
	if lead.Source == "" {
		return leadsync.UnknownLabel
	}
	return lead.Source
}

func truncate(s string, n int) string {
	if n < 2 {
		n = 2
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
