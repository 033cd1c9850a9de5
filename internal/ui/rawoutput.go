package ui

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RawOutput is a box for unformatted device output, such as the JSON
// returned by the DIY mode info endpoint
type RawOutput struct {
	Title    string
	Lines    []string
	Width    int
	MaxLines int // 0 = unlimited
}

// NewRawOutput creates a new raw output box
func NewRawOutput(content string) *RawOutput {
	return &RawOutput{
		Title: "Device Output",
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// NewJSONOutput pretty-prints raw JSON into a box. Invalid JSON is shown as is.
func NewJSONOutput(raw []byte) *RawOutput {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
			raw = pretty
		}
	}
	return NewRawOutput(string(raw))
}

// SetWidth sets the terminal width for responsive rendering
func (o *RawOutput) SetWidth(width int) *RawOutput {
	o.Width = width
	return o
}

// SetTitle sets a custom title for the box
func (o *RawOutput) SetTitle(title string) *RawOutput {
	if title != "" {
		o.Title = title
	}
	return o
}

// SetMaxLines limits the number of lines displayed
func (o *RawOutput) SetMaxLines(n int) *RawOutput {
	o.MaxLines = n
	return o
}

// Render returns the styled box as a string
func (o *RawOutput) Render() string {
	width := o.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := o.Lines
	if o.MaxLines > 0 && len(lines) > o.MaxLines {
		lines = append(lines[:o.MaxLines:o.MaxLines], "... (output truncated)")
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		RawTitleStyle.Render(o.Title),
		"",
		lipgloss.NewStyle().Foreground(TextColor).Render(strings.Join(lines, "\n")),
	)

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(width-4).
		Padding(0, 1).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (o *RawOutput) String() string {
	return o.Render()
}
