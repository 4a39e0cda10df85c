package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	good    lipgloss.Style
	warning lipgloss.Style
	faint   lipgloss.Style
	barFill lipgloss.Style
	barRest lipgloss.Style
	section lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		key:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		faint:   lipgloss.NewStyle().Faint(true),
		barFill: lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barRest: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		section: lipgloss.NewStyle().MarginTop(1),
	}
}

const barWidth = 24

func (m model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("pagemill-top"))
	b.WriteString(m.styles.faint.Render("  " + m.endpoint))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(m.styles.warning.Render(fmt.Sprintf("unreachable: %v", m.lastErr)))
		b.WriteString("\n")
		b.WriteString(m.styles.faint.Render("q quit · r refresh"))
		return b.String()
	}
	if m.polled.IsZero() {
		b.WriteString(m.styles.faint.Render("connecting..."))
		return b.String()
	}

	s := m.snap
	b.WriteString(m.styles.header.Render(fmt.Sprintf("version %s · polled %s", s.Version, m.polled.Format("15:04:05"))))
	b.WriteString("\n")

	b.WriteString(m.styles.section.Render(m.styles.title.Render("Pool")))
	b.WriteString("\n")
	b.WriteString(m.bar("leased", s.PoolLeased, s.PoolCapacity))
	b.WriteString(m.row("live", fmt.Sprintf("%d/%d", s.PoolLive, s.PoolCapacity)))
	b.WriteString(m.row("idle", fmt.Sprintf("%d", s.PoolIdle)))

	b.WriteString(m.styles.section.Render(m.styles.title.Render("Queue")))
	b.WriteString("\n")
	b.WriteString(m.bar("depth", s.QueueDepth, s.QueueMaxDepth))

	b.WriteString(m.styles.section.Render(m.styles.title.Render("Tasks")))
	b.WriteString("\n")
	b.WriteString(m.row("started", fmt.Sprintf("%d", s.TasksStarted)))
	b.WriteString(m.row("succeeded", m.styles.good.Render(fmt.Sprintf("%d", s.TasksSucceed))))
	b.WriteString(m.row("failed", fmt.Sprintf("%d", s.TasksFailed)))
	b.WriteString(m.row("timed out", fmt.Sprintf("%d", s.TasksTimedOut)))
	b.WriteString(m.row("rejected", fmt.Sprintf("%d", s.TasksRejected)))

	b.WriteString("\n")
	b.WriteString(m.styles.faint.Render("q quit · r refresh"))
	return b.String()
}

func (m model) row(key, value string) string {
	return fmt.Sprintf("  %s %s\n",
		m.styles.key.Render(fmt.Sprintf("%-10s", key)),
		m.styles.value.Render(value))
}

// bar renders "  label [████------] n/max".
func (m model) bar(label string, n, max int) string {
	if max <= 0 {
		max = 1
	}
	fill := n * barWidth / max
	if fill > barWidth {
		fill = barWidth
	}

	bar := m.styles.barFill.Render(strings.Repeat("█", fill)) +
		m.styles.barRest.Render(strings.Repeat("─", barWidth-fill))

	style := m.styles.value
	if n >= max {
		style = m.styles.warning
	}
	return fmt.Sprintf("  %s [%s] %s\n",
		m.styles.key.Render(fmt.Sprintf("%-10s", label)),
		bar,
		style.Render(fmt.Sprintf("%d/%d", n, max)))
}
