package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/hdmctl/internal/hdm"
)

// transitionMsg carries one exchange transition into the program
type transitionMsg hdm.Transition

// doneMsg ends the program with the operation's error
type doneMsg struct {
	err error
}

// ExchangeModel is a Bubble Tea model that redraws the progress of one
// exchange as transitions arrive and exits when the operation finishes.
// It takes no input; the operation runs on its own goroutine.
type ExchangeModel struct {
	progress *Progress
	err      error
	done     bool
}

// NewExchangeModel creates a model around p
func NewExchangeModel(p *Progress) ExchangeModel {
	return ExchangeModel{progress: p}
}

// Init implements tea.Model
func (m ExchangeModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m ExchangeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case transitionMsg:
		m.progress.Apply(hdm.Transition(msg))
	case doneMsg:
		m.progress.Finish(msg.err)
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.progress.SetWidth(msg.Width)
	}
	return m, nil
}

// View implements tea.Model
func (m ExchangeModel) View() string {
	view := m.progress.Render()
	if m.done {
		// The final frame stays on screen above the result box
		return view + "\n"
	}
	return view
}

// Err returns the operation's error once the model is done
func (m ExchangeModel) Err() error {
	return m.err
}

// Printer provides methods for printing UI components to a writer.
// This is the primary way commands output styled content.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Writer returns the printer's output
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintLines writes multiple lines
func (p *Printer) PrintLines(lines ...string) {
	for _, line := range lines {
		_, _ = fmt.Fprintln(p.out, line)
	}
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Detail) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details ...Detail) {
	p.Println(NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

// PrintError prints an error result box with tips for err
func (p *Printer) PrintError(title string, err error) {
	p.Println(NewErrorResult(title, err).SetWidth(p.width).Render())
}

// PrintResult prints any result box
func (p *Printer) PrintResult(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
}

// PrintTable prints a listing
func (p *Printer) PrintTable(headers []string, rows [][]string) {
	p.Println(RenderTable(headers, rows))
}

// PrintDetail prints a titled box of raw content, such as a request
// payload in verbose mode
func (p *Printer) PrintDetail(title, content string) {
	box := DetailBoxStyle(p.width).Render(strings.Join([]string{
		DetailTitleStyle.Render(title),
		DetailContentStyle.Render(strings.TrimRight(content, "\n")),
	}, "\n"))
	p.Println(box)
}
