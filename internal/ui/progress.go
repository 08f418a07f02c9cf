package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/protocol"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
)

// Step represents a single step of an exchange
type Step struct {
	Number  int        // Step number (1-based)
	Name    string     // Step description
	State   hdm.State  // Exchange state the step stands for
	Status  StepStatus // Current status
	Message string     // Optional status message (e.g., "attempt 2")
}

// stepNames labels the exchange states shown as steps
var stepNames = map[hdm.State]string{
	hdm.StateConnecting:       "Connect to device",
	hdm.StateLoggingIn:        "Log in",
	hdm.StateSending:          "Send request",
	hdm.StateAwaitingResponse: "Await response",
	hdm.StateDecoding:         "Decode response",
}

// ExchangeStates returns the states an exchange for code passes through
func ExchangeStates(code protocol.Code) []hdm.State {
	switch {
	case code == protocol.CodeLogin:
		return []hdm.State{hdm.StateConnecting, hdm.StateLoggingIn}
	case code.ExpectsResponse():
		return []hdm.State{hdm.StateConnecting, hdm.StateLoggingIn, hdm.StateSending,
			hdm.StateAwaitingResponse, hdm.StateDecoding}
	default:
		return []hdm.State{hdm.StateConnecting, hdm.StateLoggingIn, hdm.StateSending}
	}
}

// Progress represents a progress display with bar and step list
type Progress struct {
	Label     string  // e.g., "Printing receipt..."
	Steps     []Step  // List of steps
	Current   int     // Current step (1-based)
	Total     int     // Total steps
	Percent   float64 // Progress percentage (0.0 - 1.0)
	Width     int     // Terminal width
	ShowBar   bool    // Whether to show progress bar
	ShowSteps bool    // Whether to show step list
	bar       progress.Model
}

// NewProgress creates a progress display for one exchange of code
func NewProgress(label string, code protocol.Code) *Progress {
	states := ExchangeStates(code)
	steps := make([]Step, len(states))
	for i, s := range states {
		steps[i] = Step{
			Number: i + 1,
			Name:   stepNames[s],
			State:  s,
			Status: StepPending,
		}
	}

	return &Progress{
		Label:     label,
		Steps:     steps,
		Total:     len(steps),
		Width:     GetTerminalWidth(),
		ShowBar:   true,
		ShowSteps: true,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // Leave room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return p
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	idx := stepNumber - 1
	p.Steps[idx].Status = status
	p.Steps[idx].Message = message

	if status == StepRunning {
		p.Current = stepNumber
	}

	completed := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete {
			completed++
		}
	}
	p.Percent = float64(completed) / float64(p.Total)
}

// Apply moves the display to the state t entered. Steps before it are
// complete; the step for t.To is running. Entering StateClosed changes
// nothing, Finish settles the outcome.
func (p *Progress) Apply(t hdm.Transition) {
	for i, step := range p.Steps {
		if step.State != t.To {
			continue
		}
		for j := 0; j < i; j++ {
			if p.Steps[j].Status != StepComplete {
				p.UpdateStep(j+1, StepComplete, p.Steps[j].Message)
			}
		}
		p.UpdateStep(i+1, StepRunning, "")
		return
	}
}

// Finish settles the display once the exchange is over: the running step
// fails when err is set, otherwise every step completes
func (p *Progress) Finish(err error) {
	for i, step := range p.Steps {
		switch {
		case err != nil && step.Status == StepRunning:
			p.UpdateStep(i+1, StepFailed, step.Message)
		case err == nil:
			p.UpdateStep(i+1, StepComplete, step.Message)
		}
	}
}

// Render returns the styled progress display as a string
func (p *Progress) Render() string {
	var b strings.Builder

	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}

	if p.ShowBar {
		b.WriteString(p.renderProgressBar())
		b.WriteString("\n\n")
	}

	if p.ShowSteps {
		b.WriteString(p.renderStepList())
	}

	return b.String()
}

// renderProgressBar renders the progress bar line
func (p *Progress) renderProgressBar() string {
	barView := p.bar.ViewAs(p.Percent)
	percentStr := fmt.Sprintf("%3.0f%%", p.Percent*100)
	stepStr := fmt.Sprintf("[%d/%d]", p.Current, p.Total)

	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %s  %s", barView, percentStr, stepStr))
}

// renderStepList renders the list of steps
func (p *Progress) renderStepList() string {
	lines := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		lines = append(lines, p.renderStepLine(step))
	}
	return strings.Join(lines, "\n")
}

// renderStepLine renders a single step line
func (p *Progress) renderStepLine(step Step) string {
	prefix := fmt.Sprintf("  [%d/%d]", step.Number, p.Total)

	var marker string
	var style lipgloss.Style
	switch step.Status {
	case StepComplete:
		marker, style = StateMarkerDone, StateDoneStyle
	case StepRunning:
		marker, style = StateMarkerActive, StateActiveStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	default:
		marker, style = StateMarkerPending, StatePendingStyle
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(style.Render(step.Name))

	// Markers line up in one column
	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StateNoteStyle.Render("(" + step.Message + ")"))
	}

	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
