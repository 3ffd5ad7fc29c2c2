// Package render draws a session view as a terminal board.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/domain"
	"taskboard/session"
)

// ActivityLines is how many activity entries Board shows.
const ActivityLines = 5

// Board renders stats, the three status columns and the activity tail.
func Board(v session.View, width int, th Theme) string {
	colWidth := max(width/3-2, MinColumnWidth)
	cols := make([]string, 0, len(v.Columns))
	for _, c := range v.Columns {
		cols = append(cols, column(c, v.Roster, colWidth, th))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header(v.Stats, th),
		lipgloss.JoinHorizontal(lipgloss.Top, cols...),
		activity(v.Activity, th),
	)
}

func header(s session.Stats, th Theme) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(th.Title).Render("taskboard")
	stats := lipgloss.NewStyle().Foreground(th.ForegroundDim).Render(fmt.Sprintf(
		"%d tasks · %d in progress · %d done · %d%% complete",
		s.Total, s.InProgress, s.Completed, s.CompletionRate,
	))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", stats)
}

func statusColor(st domain.Status, th Theme) lipgloss.Color {
	switch st {
	case domain.StatusInProgress:
		return th.InProgress
	case domain.StatusDone:
		return th.Done
	}
	return th.Todo
}

func priorityColor(p domain.Priority, th Theme) lipgloss.Color {
	switch p {
	case domain.PriorityHigh:
		return th.High
	case domain.PriorityLow:
		return th.Low
	}
	return th.Medium
}

func column(c session.Column, roster domain.Roster, width int, th Theme) string {
	heading := lipgloss.NewStyle().
		Bold(true).
		Foreground(statusColor(c.Status, th)).
		Render(fmt.Sprintf("%s (%d)", c.Status, len(c.Tasks)))
	items := []string{heading}
	for _, t := range c.Tasks {
		items = append(items, card(t, roster, width-2, th))
	}
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(th.Border).
		Render(lipgloss.JoinVertical(lipgloss.Left, items...))
}

func card(t domain.Task, roster domain.Roster, width int, th Theme) string {
	title := lipgloss.NewStyle().Foreground(th.Foreground).Width(width).Render(fmt.Sprintf("#%d %s", t.ID, t.Title))
	prio := lipgloss.NewStyle().Foreground(priorityColor(t.Priority, th)).Render(string(t.Priority))
	meta := prio
	if id, ok := t.Assignee(); ok {
		u := roster.Attribute(id)
		initials := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(u.Accent)).Render(u.Initials)
		meta = prio + " " + initials
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, meta)
}

func activity(entries []domain.ActivityEntry, th Theme) string {
	dim := lipgloss.NewStyle().Foreground(th.ForegroundDim)
	if len(entries) == 0 {
		return dim.Render("no activity yet")
	}
	lines := make([]string, 0, ActivityLines)
	for i, e := range entries {
		if i == ActivityLines {
			break
		}
		lines = append(lines, dim.Render(fmt.Sprintf("%s  %s %s %q",
			e.Timestamp.Local().Format("15:04:05"), e.User, e.Summary(), e.TaskTitle)))
	}
	return strings.Join(lines, "\n")
}
