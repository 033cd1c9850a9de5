package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/provision"
)

// Waiter shows a countdown while the orchestrator waits out a settle
// delay. It implements provision.Sleeper. Without a terminal it prints a
// single line and sleeps.
type Waiter struct {
	Out         io.Writer
	Interactive bool
}

// NewWaiter creates a Waiter on stdout
func NewWaiter() *Waiter {
	return &Waiter{
		Out:         os.Stdout,
		Interactive: IsTerminal(os.Stdout),
	}
}

// Sleep blocks for d or until ctx is done
func (w *Waiter) Sleep(ctx context.Context, d time.Duration, reason string) error {
	if d <= 0 {
		return ctx.Err()
	}
	out := w.Out
	if out == nil {
		out = os.Stdout
	}

	if !w.Interactive {
		_, _ = fmt.Fprintln(out, WaitStyle.Render("⏳ "+reason)+" "+StepNoteStyle.Render("("+d.String()+")"))
		return provision.TimerSleeper{}.Sleep(ctx, d, reason)
	}

	p := tea.NewProgram(newCountdownModel(reason, d),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	_, err := p.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type countdownTickMsg time.Time

// countdownModel is a spinner with the time left until a deadline
type countdownModel struct {
	reason   string
	total    time.Duration
	deadline time.Time
	now      time.Time
	spinner  spinner.Model
	done     bool
}

func newCountdownModel(reason string, d time.Duration) countdownModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	now := time.Now()
	return countdownModel{
		reason:   reason,
		total:    d,
		deadline: now.Add(d),
		now:      now,
		spinner:  s,
	}
}

func (m countdownModel) tick() tea.Cmd {
	next := time.Until(m.deadline)
	if next > time.Second {
		next = time.Second
	}
	return tea.Tick(next, func(t time.Time) tea.Msg {
		return countdownTickMsg(t)
	})
}

func (m countdownModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

func (m countdownModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case countdownTickMsg:
		m.now = time.Time(msg)
		if !m.now.Before(m.deadline) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Remaining is the time left, rounded up to whole seconds
func (m countdownModel) Remaining() time.Duration {
	left := m.deadline.Sub(m.now)
	if left <= 0 {
		return 0
	}
	return left.Round(time.Second)
}

func (m countdownModel) View() string {
	if m.done {
		return WaitStyle.Render(StepMarkerComplete+" "+m.reason) + " " +
			StepNoteStyle.Render("("+m.total.String()+")") + "\n"
	}
	return "  " + m.spinner.View() + " " + WaitStyle.UnsetPaddingLeft().Render(m.reason) + " " +
		StepNoteStyle.Render(fmt.Sprintf("%s left", m.Remaining())) + "\n"
}
