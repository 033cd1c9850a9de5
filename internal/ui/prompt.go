package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Prompter asks questions with huh forms. It implements provision.Prompter.
type Prompter struct {
	ctx        context.Context
	Accessible bool // plain line prompts for screen readers and dumb terminals
}

// NewPrompter creates a Prompter. Forms fall back to accessible mode when
// stdin is not a terminal.
func NewPrompter() *Prompter {
	return &Prompter{
		ctx:        context.Background(),
		Accessible: !IsTerminalFd(0),
	}
}

// WithContext returns a copy whose forms are aborted when ctx is done
func (p *Prompter) WithContext(ctx context.Context) *Prompter {
	cp := *p
	cp.ctx = ctx
	return &cp
}

// Confirm asks a yes/no question
func (p *Prompter) Confirm(title, description string, initial bool) (bool, error) {
	value := initial
	confirm := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if description != "" {
		confirm = confirm.Description(description)
	}
	if err := p.run(confirm); err != nil {
		return false, err
	}
	return value, nil
}

// Input asks for a line of text
func (p *Prompter) Input(title, initial string, validate func(string) error) (string, error) {
	value := initial
	input := huh.NewInput().
		Title(title).
		Value(&value)
	if validate != nil {
		input = input.Validate(validate)
	}
	if err := p.run(input); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Password asks for a secret without echoing it
func (p *Prompter) Password(title string) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if err := p.run(input); err != nil {
		return "", err
	}
	return value, nil
}

func (p *Prompter) run(field huh.Field) error {
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return huh.NewForm(huh.NewGroup(field)).
		WithAccessible(p.Accessible).
		RunWithContext(ctx)
}

// ConfirmDangerousOperation displays a warning box and asks whether to go on
func (p *Prompter) ConfirmDangerousOperation(title string, warnings []string, disclaimer string) (bool, error) {
	fmt.Println(RenderWarningBox(title, warnings, disclaimer, GetTerminalWidth()))
	fmt.Println()
	return p.Confirm("Do you want to continue?", "", false)
}

// RenderWarningBox renders the box shown before a dangerous operation
func RenderWarningBox(title string, warnings []string, disclaimer string, width int) string {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)), ""}

	bulletStyle := lipgloss.NewStyle().Foreground(TextColor)
	for _, warning := range warnings {
		lines = append(lines, bulletStyle.Render("   • "+warning))
	}
	lines = append(lines, "")

	if disclaimer != "" {
		disclaimerStyle := lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true).
			Width(width - 12).
			PaddingLeft(3)
		lines = append(lines, disclaimerStyle.Render(disclaimer), "")
	}

	return boxStyle(WarningColor, width).Render(strings.Join(lines, "\n"))
}

// FlashConfirmation is the warning shown before replacing the stock firmware
func (p *Prompter) FlashConfirmation() (bool, error) {
	return p.ConfirmDangerousOperation(
		"REPLACE STOCK FIRMWARE",
		[]string{
			"This replaces the eWeLink firmware on your Sonoff with Tasmota",
			"The device must be in DIY mode on the same network as this computer",
			"Keep the device powered until the flash has finished",
			"There is no way back to the stock firmware through this tool",
		},
		"DISCLAIMER: This software is provided as-is, without warranty of any kind. "+
			"The authors accept no responsibility for any damage to your device.",
	)
}
