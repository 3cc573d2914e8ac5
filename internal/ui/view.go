package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/osa030/tapedeck/internal/app/playback"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	nowStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62"))
	currentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46")) // Green
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	pausedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226")) // Yellow
	idleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // Gray
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noteStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

const barWidth = 30

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("tapedeck"))
	b.WriteString("\n\n")

	label := "nothing to play, press a to add a file"
	if m.status.Track != nil {
		label = m.status.Track.Label()
	}
	b.WriteString("Now Playing: " + nowStyle.Render(label) + "\n")
	b.WriteString(stateStyle(m.status.State).Render(m.status.State.String()))
	b.WriteString("  " + progressBar(m.status.Position, m.status.Duration))
	b.WriteString(fmt.Sprintf("  %s / %s\n\n", formatSeconds(m.status.Position), formatSeconds(m.status.Duration)))

	for i, t := range m.playlist.Tracks {
		marker := "  "
		if i == m.status.Index {
			marker = "▶ "
		}
		line := fmt.Sprintf("%s%3d  %s", marker, i+1, t.Label())
		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case i == m.status.Index:
			line = currentStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if m.playlist.Len() == 0 {
		b.WriteString(idleStyle.Render("  (playlist is empty)") + "\n")
	}
	b.WriteString("\n")

	switch {
	case m.prompting:
		b.WriteString(promptStyle.Render("add file: ") + m.input + "█\n")
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	case m.note != "":
		b.WriteString(noteStyle.Render(m.note) + "\n")
	}

	b.WriteString(helpStyle.Render("space play/pause • n next • p prev • enter play selected • ←/→ seek • a add • q quit"))
	return b.String()
}

func stateStyle(s playback.State) lipgloss.Style {
	switch s {
	case playback.StatePlaying:
		return playingStyle
	case playback.StatePaused, playback.StateLoading:
		return pausedStyle
	default:
		return idleStyle
	}
}

func progressBar(position, duration float64) string {
	filled := 0
	if duration > 0 {
		filled = int(position / duration * barWidth)
	}
	filled = min(max(filled, 0), barWidth)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]"
}

// formatSeconds renders seconds as m:ss.
func formatSeconds(seconds float64) string {
	if seconds < 0 || seconds != seconds {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
