package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/provision"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
)

// FlashSteps are the provisioning states shown in the step list, in run order
var FlashSteps = []provision.State{
	provision.StateJoinFactoryAP,
	provision.StatePushHomeCredentials,
	provision.StateRejoinHomeNetwork,
	provision.StateAwaitDeviceSettle,
	provision.StateResolveDeviceIP,
	provision.StateConfirmOrManualIP,
	provision.StatePrepareFirmware,
	provision.StateUnlockDevice,
	provision.StateServeAndFlash,
	provision.StateAwaitCompletion,
	provision.StateManualProvisioning,
}

// FlashReporter prints a provisioning run as a step list with a transfer
// bar. It implements provision.Reporter and is safe for use from the
// firmware server's goroutines.
type FlashReporter struct {
	mu       sync.Mutex
	out      io.Writer
	progress *Progress
	bar      *TransferBar
	index    map[provision.State]int
	current  int
	lastPct  int
	lineOpen bool // a running step or bar line waits for its newline
	barShown bool // the transfer bar sits under the running step
}

// NewFlashReporter creates a reporter writing to w. If w is nil, os.Stdout is used.
func NewFlashReporter(w io.Writer) *FlashReporter {
	if w == nil {
		w = os.Stdout
	}

	names := make([]string, len(FlashSteps))
	index := make(map[provision.State]int, len(FlashSteps))
	for i, s := range FlashSteps {
		names[i] = s.Title()
		index[s] = i + 1
	}

	width := GetTerminalWidth()
	p := NewProgress(names)
	p.Width = width

	return &FlashReporter{
		out:      w,
		progress: p,
		bar:      NewTransferBar(width),
		index:    index,
		lastPct:  -1,
	}
}

// StateChanged completes the step being left and starts the one entered
func (r *FlashReporter) StateChanged(from, to provision.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.index[from]; ok && n == r.current {
		r.finishStep(n, StepComplete, "")
	}
	if n, ok := r.index[to]; ok {
		r.current = n
		r.progress.StartStep(n, "")
		r.closeLine()
		_, _ = fmt.Fprint(r.out, r.progress.RenderStepLine(*r.progress.Step(n))+"\r")
		r.lineOpen = true
	}
}

// Notice prints a note under the current step
func (r *FlashReporter) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLine()
	_, _ = fmt.Fprintln(r.out, "         "+StepNoteStyle.Render(msg))
}

// Progress redraws the transfer bar when the percentage moves
func (r *FlashReporter) Progress(ev server.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Type == server.EventComplete {
		if r.lastPct == 100 {
			return
		}
		r.lastPct = 100
		r.closeLine()
		_, _ = fmt.Fprintln(r.out, r.bar.Render(ev.Size, ev.Size, 100))
		return
	}
	if ev.Percentage == r.lastPct {
		return
	}
	r.lastPct = ev.Percentage
	if !r.barShown {
		// Keep the step line, draw the bar below it
		r.closeLine()
		r.barShown = true
	}
	_, _ = fmt.Fprint(r.out, "\r"+r.bar.Render(ev.Offset, ev.Size, ev.Percentage))
	r.lineOpen = true
}

// Fail marks the current step as failed
func (r *FlashReporter) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == 0 {
		return
	}
	msg := ""
	if err != nil {
		msg = shortError(err)
	}
	r.finishStep(r.current, StepFailed, msg)
}

// Steps returns a copy of the step list
func (r *FlashReporter) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.progress.Steps...)
}

func (r *FlashReporter) finishStep(n int, status StepStatus, msg string) {
	r.progress.UpdateStep(n, status, msg)
	if r.barShown {
		r.closeLine()
		r.barShown = false
	} else {
		_, _ = fmt.Fprint(r.out, "\r")
		r.lineOpen = false
	}
	_, _ = fmt.Fprintln(r.out, r.progress.RenderStepLine(*r.progress.Step(n)))
	r.current = 0
}

func (r *FlashReporter) closeLine() {
	if r.lineOpen {
		_, _ = fmt.Fprintln(r.out)
		r.lineOpen = false
	}
}

// shortError fits an error into the step line note, cut on rune boundaries
func shortError(err error) string {
	msg := []rune(deviceapi.GetShortErrorMessage(err))
	if len(msg) > 40 {
		return string(msg[:37]) + "..."
	}
	return string(msg)
}
