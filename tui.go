package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livenote/audio"
	"livenote/config"
	"livenote/log"
	"livenote/metrics"
	"livenote/session"
)

// TUI message types
type summaryMsg struct {
	src  audio.Source
	text string
}
type transcriptMsg struct {
	src  audio.Source
	text string
}
type toggledMsg struct {
	src audio.Source
	err error
}
type copiedMsg struct{ err error }
type tickMsg time.Time

// tuiSink forwards one source's session output to the program.
type tuiSink struct {
	src  audio.Source
	send func(tea.Msg)
}

func (s *tuiSink) SetContent(summary string) { s.send(summaryMsg{src: s.src, text: summary}) }
func (s *tuiSink) SetTranscript(text string) { s.send(transcriptMsg{src: s.src, text: text}) }

type panel struct {
	snap       session.Snapshot
	level      float64
	transcript string
	summary    string
	err        string
}

type tuiModel struct {
	ctx       context.Context
	eng       *engine
	autostart []audio.Source
	panels    [2]panel
	lastSrc   audio.Source // source of the most recent summary
	status    string
	width     int
	height    int
}

var (
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	levelColors  = []string{"42", "226", "208", "196"}
)

func runTUI(ctx context.Context, cfg *config.Config, backend audio.Context, m *metrics.Metrics, autostart []audio.Source) error {
	var prog atomic.Pointer[tea.Program]
	send := func(msg tea.Msg) {
		if p := prog.Load(); p != nil {
			p.Send(msg)
		}
	}
	eng, err := newEngine(cfg, backend, m, func(src audio.Source) session.Sink {
		return &tuiSink{src: src, send: send}
	})
	if err != nil {
		return err
	}
	eng.warm()

	p := tea.NewProgram(newTUIModel(ctx, eng, autostart), tea.WithAltScreen(), tea.WithContext(ctx))
	prog.Store(p)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		log.Errorf("TUI error: %v", err)
		return err
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RequestTimeout)
	defer cancel()
	return eng.Shutdown(waitCtx)
}

func newTUIModel(ctx context.Context, eng *engine, autostart []audio.Source) tuiModel {
	m := tuiModel{ctx: ctx, eng: eng, autostart: autostart}
	for _, src := range sources {
		m.panels[src].snap = session.Snapshot{Source: src}
	}
	return m
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) toggle(src audio.Source) tea.Cmd {
	return func() tea.Msg {
		return toggledMsg{src: src, err: m.eng.Toggle(m.ctx, src)}
	}
}

func (m tuiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tuiTick()}
	for _, src := range m.autostart {
		cmds = append(cmds, m.toggle(src))
	}
	return tea.Batch(cmds...)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "m":
			return m, m.toggle(audio.Microphone)
		case "d":
			return m, m.toggle(audio.Desktop)
		case "c":
			text := m.panels[m.lastSrc].summary
			if text == "" {
				m.status = "nothing to copy yet"
				return m, nil
			}
			return m, func() tea.Msg { return copiedMsg{err: clipboard.WriteAll(text)} }
		}

	case tickMsg:
		for _, src := range sources {
			p := &m.panels[src]
			snap, _ := m.eng.Snapshot(src)
			if snap.ID != p.snap.ID {
				p.transcript, p.summary = "", ""
			}
			p.snap = snap
			if snap.State == session.Recording {
				p.level = p.level*0.6 + m.eng.Level(src)*0.4
			} else {
				p.level = 0
			}
		}
		return m, tuiTick()

	case toggledMsg:
		p := &m.panels[msg.src]
		if msg.err != nil {
			p.err = msg.err.Error()
			if errors.Is(msg.err, audio.ErrDeviceUnavailable) {
				p.err = fmt.Sprintf("%s unavailable: %v", msg.src, msg.err)
			}
			break
		}
		p.err = ""

	case summaryMsg:
		m.panels[msg.src].summary = msg.text
		m.lastSrc = msg.src

	case transcriptMsg:
		m.panels[msg.src].transcript = msg.text

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
			log.Warnf("clipboard: %v", msg.err)
		} else {
			m.status = fmt.Sprintf("copied %s summary", m.lastSrc)
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	colWidth := max(m.width/2-1, 20)
	bodyHeight := max(m.height-3, 5)
	cols := make([]string, 0, len(sources))
	for _, src := range sources {
		col := lipgloss.NewStyle().
			Width(colWidth).
			Height(bodyHeight).
			PaddingLeft(1).
			Render(m.renderPanel(src, colWidth-2, bodyHeight))
		cols = append(cols, col)
	}

	help := keyStyle.Render("m") + helpStyle.Render(" mic  ") +
		keyStyle.Render("d") + helpStyle.Render(" desktop  ") +
		keyStyle.Render("c") + helpStyle.Render(" copy summary  ") +
		keyStyle.Render("q") + helpStyle.Render(" quit   livenote "+version)
	footer := []string{help}
	if m.status != "" {
		footer = append(footer, dimStyle.Render(m.status))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cols...),
		strings.Join(footer, "\n"))
}

func (m tuiModel) renderPanel(src audio.Source, width, height int) string {
	p := m.panels[src]
	var lines []string

	switch p.snap.State {
	case session.Recording:
		elapsed := time.Since(p.snap.StartedAt).Seconds()
		lines = append(lines, recStyle.Render(fmt.Sprintf("● REC %s %.0fs", src, elapsed)))
		lines = append(lines, renderLevel(p.level, width))
	case session.Stopped:
		reason := ""
		if p.snap.StopReason != "" && p.snap.StopReason != "stop" {
			reason = " (" + p.snap.StopReason + ")"
		}
		lines = append(lines, idleStyle.Render("■ "+src.String()+" stopped"+reason), "")
	default:
		lines = append(lines, idleStyle.Render("○ "+src.String()+" standby"), "")
	}

	stats := fmt.Sprintf("chunks %d  in flight %d  failed %d  skipped %d",
		p.snap.Chunks, p.snap.InFlight, p.snap.Failures, p.snap.Skipped)
	lines = append(lines, dimStyle.Render(stats))
	if p.err != "" {
		for _, l := range wrapText(p.err, width) {
			lines = append(lines, errStyle.Render(l))
		}
	}
	lines = append(lines, "", headStyle.Render("Summary"))
	if p.summary == "" {
		lines = append(lines, idleStyle.Render("No summary yet"))
	}
	for _, para := range strings.Split(p.summary, "\n") {
		if para == "" {
			continue
		}
		for _, l := range wrapText(para, width) {
			lines = append(lines, summaryStyle.Render(l))
		}
	}

	lines = append(lines, "", headStyle.Render("Transcript"))
	// Show the end of the transcript in whatever room is left.
	room := height - len(lines)
	if room > 0 && p.transcript != "" {
		tl := wrapText(p.transcript, width)
		if len(tl) > room {
			tl = tl[len(tl)-room:]
		}
		for _, l := range tl {
			lines = append(lines, dimStyle.Render(l))
		}
	}
	return strings.Join(lines, "\n")
}

func renderLevel(level float64, width int) string {
	barWidth := max(width-2, 1)
	n := min(int(level*10*float64(barWidth)), barWidth)
	color := levelColors[min(n*len(levelColors)/barWidth, len(levelColors)-1)]
	bar := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(strings.Repeat("█", n))
	return bar + idleStyle.Render(strings.Repeat("░", barWidth-n))
}

// wrapText breaks text into lines of at most width runes at spaces. Words
// longer than width are split.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 1
	}
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, w...)
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), w...)
		}
	}
	if len(cur) > 0 || len(lines) == 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
