// Package ui provides the terminal user interface.
package ui

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/osa030/tapedeck/internal/app/notification"
	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/metrics"
)

// seekStep is the jump of the left/right keys in seconds.
const seekStep = 5.0

// Controller is the subset of the playback controller the UI drives.
type Controller interface {
	Status() playback.Status
	Playlist() playlist.Playlist
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Select(ctx context.Context, index int) error
	TogglePlay(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	AddTrack(ctx context.Context, name string, data []byte) (track.Track, error)
}

type eventMsg notification.Envelope[playback.Event]

type resultMsg struct {
	note string
	err  error
}

type model struct {
	ctx    context.Context
	ctl    Controller
	events <-chan notification.Envelope[playback.Event]

	status   playback.Status
	playlist playlist.Playlist
	cursor   int
	width    int
	height   int

	prompting bool   // reading a file path for "add"
	input     string // path typed so far
	note      string // last informational message
	err       error  // last error
}

func newModel(ctx context.Context, ctl Controller, events <-chan notification.Envelope[playback.Event]) model {
	m := model{ctx: ctx, ctl: ctl, events: events}
	m.status = ctl.Status()
	m.playlist = ctl.Playlist()
	m.cursor = max(m.status.Index, 0)
	return m
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan notification.Envelope[playback.Event]) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		env, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(env)
	}
}

// do runs a controller action off the update loop.
func (m model) do(action func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{err: action(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case eventMsg:
		ev := msg.Payload
		m.status = ev.Status
		if ev.Type == playback.EventPlaylistChanged || m.playlist.Len() != ev.Status.Length {
			m.playlist = m.ctl.Playlist()
		}
		if ev.Type == playback.EventTrackChanged {
			m.cursor = ev.Status.Index
			m.err = nil
		}
		if ev.Type == playback.EventError {
			m.err = ev.Err
		}
		return m, waitForEvent(m.events)

	case resultMsg:
		if msg.err != nil {
			m.err = msg.err
		} else if msg.note != "" {
			m.note = msg.note
			m.err = nil
		}
		m.status = m.ctl.Status()
		m.playlist = m.ctl.Playlist()
		return m, nil

	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		return m, m.do(m.ctl.TogglePlay)
	case "n":
		return m, m.do(m.ctl.Next)
	case "p":
		return m, m.do(m.ctl.Previous)
	case "enter":
		index := m.cursor
		return m, m.do(func(ctx context.Context) error {
			return m.ctl.Select(ctx, index)
		})
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.playlist.Len()-1 {
			m.cursor++
		}
	case "left":
		target := m.ctl.Status().Position - seekStep
		return m, m.do(func(ctx context.Context) error {
			return m.ctl.Seek(ctx, max(target, 0))
		})
	case "right":
		target := m.ctl.Status().Position + seekStep
		return m, m.do(func(ctx context.Context) error {
			return m.ctl.Seek(ctx, target)
		})
	case "a":
		m.prompting = true
		m.input = ""
	}
	return m, nil
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompting = false
		m.input = ""
	case tea.KeyEnter:
		m.prompting = false
		path := strings.TrimSpace(m.input)
		m.input = ""
		if path == "" {
			return m, nil
		}
		return m, m.addFile(path)
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
	case tea.KeyCtrlU:
		m.input = ""
	case tea.KeyRunes, tea.KeySpace:
		m.input += string(msg.Runes)
		if msg.Type == tea.KeySpace && len(msg.Runes) == 0 {
			m.input += " "
		}
	}
	return m, nil
}

func (m model) addFile(path string) tea.Cmd {
	ctx, ctl := m.ctx, m.ctl
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return resultMsg{err: err}
		}
		t, err := ctl.AddTrack(ctx, filepath.Base(path), data)
		if err != nil {
			return resultMsg{err: err}
		}
		metrics.TracksImportedTotal.WithLabelValues("ui").Inc()
		return resultMsg{note: "added " + t.Label()}
	}
}

// Run shows the terminal UI until the user quits or ctx is done.
func Run(ctx context.Context, ctl Controller, events <-chan notification.Envelope[playback.Event]) error {
	p := tea.NewProgram(newModel(ctx, ctl, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
