package main

import (
	"fmt"
	"strings"

	"variantlab/pkg/recwatch"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent  = lipgloss.Color("#e91e63")
	colorSuccess = lipgloss.Color("#30d158")
	colorWarning = lipgloss.Color("#ffd60a")
	colorError   = lipgloss.Color("#ff453a")
	colorMuted   = lipgloss.Color("#808080")
)

type recwatchTheme struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Panel   lipgloss.Style
}

var theme = recwatchTheme{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Header:  lipgloss.NewStyle().Bold(true).Underline(true),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1),
}

const listRowFormat = "%-28s %-8s %-20s %10s %7s"

func renderListing(version string, st recwatch.ListState) string {
	var b strings.Builder

	title := "📼 Recordings"
	if version != "" {
		title += " (version " + version + ")"
	}
	b.WriteString(theme.Title.Render(title))
	b.WriteString("  ")
	b.WriteString(statusBadge(st.IsLoading, st.Err))
	b.WriteString("\n\n")

	if len(st.Recordings) == 0 {
		b.WriteString(theme.Muted.Render("No recordings yet"))
		return b.String()
	}

	b.WriteString(theme.Header.Render(fmt.Sprintf(listRowFormat, "SESSION", "VERSION", "STARTED", "DURATION", "EVENTS")))
	b.WriteString("\n")
	for _, m := range st.Recordings {
		b.WriteString(fmt.Sprintf(listRowFormat,
			truncate(m.SessionID, 28), truncate(m.Version, 8), formatMillis(m.StartTime),
			formatDuration(m.Duration), fmt.Sprint(m.EventCount)))
		b.WriteString("\n")
	}
	b.WriteString(theme.Muted.Render(fmt.Sprintf("Total: %d recordings", len(st.Recordings))))
	return b.String()
}

func renderRecording(st recwatch.RecordingState) string {
	var lines []string
	lines = append(lines, theme.Title.Render("🎬 Session "+st.SessionID)+"  "+statusBadge(st.IsLoading, st.Err))

	switch {
	case st.NotFound:
		lines = append(lines, theme.Warning.Render("Recording not found"))
	case st.Recording == nil:
		lines = append(lines, theme.Muted.Render("Loading..."))
	default:
		rec := st.Recording
		end := int64(0)
		if rec.EndTime != nil {
			end = *rec.EndTime
		}
		lines = append(lines,
			fmt.Sprintf("Version:  %s", rec.Version),
			fmt.Sprintf("Started:  %s", formatMillis(rec.StartTime)),
			fmt.Sprintf("Ended:    %s", formatMillis(end)),
			fmt.Sprintf("Duration: %s", formatDuration(rec.Duration())),
			fmt.Sprintf("Events:   %d", len(rec.Events)),
		)
		for k, v := range rec.Metadata {
			lines = append(lines, theme.Muted.Render(fmt.Sprintf("%s: %v", k, v)))
		}
	}

	return theme.Panel.Render(strings.Join(lines, "\n"))
}

func statusBadge(loading bool, err error) string {
	switch {
	case err != nil:
		return theme.Error.Render("● " + err.Error())
	case loading:
		return theme.Warning.Render("● refreshing")
	default:
		return theme.Success.Render("● live")
	}
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	secs := ms / 1000
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
