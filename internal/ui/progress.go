package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
	StepSkipped                    // Skipped
)

// Step represents a single step in a multi-step operation
type Step struct {
	Number  int        // Step number (1-based)
	Name    string     // Step description
	Status  StepStatus // Current status
	Message string     // Optional status message (e.g., "12s settle", "192.168.1.40")
}

// Progress is a numbered step list
type Progress struct {
	Steps   []Step
	Current int     // Current step (1-based)
	Total   int     // Total steps
	Percent float64 // Share of finished steps (0.0 - 1.0)
	Width   int
}

// NewProgress creates a step list with the given step names
func NewProgress(names []string) *Progress {
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{
			Number: i + 1,
			Name:   name,
			Status: StepPending,
		}
	}

	return &Progress{
		Steps: steps,
		Total: len(names),
		Width: GetTerminalWidth(),
	}
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	idx := stepNumber - 1
	p.Steps[idx].Status = status
	p.Steps[idx].Message = message

	switch status {
	case StepRunning:
		p.Current = stepNumber
	case StepComplete, StepFailed, StepSkipped:
		completed := 0
		for _, s := range p.Steps {
			if s.Status == StepComplete || s.Status == StepSkipped {
				completed++
			}
		}
		p.Percent = float64(completed) / float64(p.Total)
	}
}

// StartStep marks a step as running
func (p *Progress) StartStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepRunning, message)
}

// CompleteStep marks a step as complete
func (p *Progress) CompleteStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepComplete, message)
}

// FailStep marks a step as failed
func (p *Progress) FailStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepFailed, message)
}

// Step returns the step with the given number, or nil
func (p *Progress) Step(stepNumber int) *Step {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return nil
	}
	return &p.Steps[stepNumber-1]
}

// Render returns every step line
func (p *Progress) Render() string {
	lines := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		lines = append(lines, p.RenderStepLine(step))
	}
	return strings.Join(lines, "\n")
}

// RenderStepLine renders a single step line, e.g. "  [3/10] Rejoining your wifi network   ✓"
func (p *Progress) RenderStepLine(step Step) string {
	var (
		marker    string
		nameStyle lipgloss.Style
	)

	switch step.Status {
	case StepComplete:
		marker = StepMarkerComplete
		nameStyle = StepCompleteStyle
	case StepRunning:
		marker = StepMarkerRunning
		nameStyle = StepRunningStyle
	case StepFailed:
		marker = FailureMarker
		nameStyle = ErrorTitleStyle
	case StepSkipped:
		marker = StepMarkerSkipped
		nameStyle = StepPendingStyle
	default:
		marker = StepMarkerPending
		nameStyle = StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", step.Number, p.Total))
	b.WriteString(nameStyle.Render(step.Name))

	// Markers line up in one column
	padding := 45 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(nameStyle.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}

	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}

// TransferBar renders how much of the firmware the device has fetched
type TransferBar struct {
	bar progress.Model
}

// NewTransferBar creates a bar sized to the given terminal width
func NewTransferBar(width int) *TransferBar {
	barWidth := width - 40 // room for percentage and byte counts
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	return &TransferBar{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
	}
}

// Render returns e.g. "  ████░░░░  42%  210 kB / 500 kB"
func (t *TransferBar) Render(offset, size int64, percentage int) string {
	pct := float64(percentage) / 100
	if pct > 1 {
		pct = 1
	}
	if pct < 0 {
		pct = 0
	}

	counts := humanize.Bytes(uint64(max(offset, 0)))
	if size > 0 {
		counts += " / " + humanize.Bytes(uint64(size))
	}

	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3d%%  %s", t.bar.ViewAs(pct), percentage, StepNoteStyle.Render(counts)))
}
