package ui

import (
	"errors"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/protocol"
)

// Runner drives the header → progress → result flow of one device
// operation. It is also the hdm.Observer of the client that runs the
// operation, so the client must be built with hdm.WithObserver(runner).
type Runner struct {
	Title       string   // e.g., "Print Receipt"
	Command     string   // e.g., "hdmctl receipt front"
	Params      []Detail // Header parameters
	Code        protocol.Code
	Label       string // Progress label, e.g., "Printing receipt..."
	FailTitle   string // Failure box title
	Interactive bool   // Redraw progress live with Bubble Tea

	printer *Printer

	mu   sync.Mutex
	sink func(hdm.Transition)
}

// NewRunner creates a runner printing to w, or stdout when w is nil.
// Live progress is used when w is a terminal.
func NewRunner(w io.Writer, title, command string, code protocol.Code) *Runner {
	if w == nil {
		w = os.Stdout
	}
	f, ok := w.(*os.File)
	return &Runner{
		Title:       title,
		Command:     command,
		Code:        code,
		FailTitle:   title + " failed",
		Interactive: ok && term.IsTerminal(int(f.Fd())),
		printer:     NewPrinter(w),
	}
}

// Observe implements hdm.Observer
func (r *Runner) Observe(t hdm.Transition) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(t)
	}
}

func (r *Runner) setSink(sink func(hdm.Transition)) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Run prints the header, runs op while showing its progress and prints
// the result box op returns, or a failure box. It returns op's error.
func (r *Runner) Run(op func() (*Result, error)) error {
	r.printer.PrintHeader(r.Title, r.Command, r.Params...)
	r.printer.Newline()

	p := NewProgress(r.Label, r.Code).SetWidth(r.printer.Width())

	var (
		result *Result
		err    error
	)
	if r.Interactive {
		result, err = r.runLive(p, op)
	} else {
		result, err = r.runStatic(p, op)
	}

	r.printer.Newline()
	if err != nil {
		r.printer.PrintError(r.FailTitle, err)
		return err
	}
	if result != nil {
		r.printer.PrintResult(result)
	}
	return nil
}

// runStatic applies transitions as they come and prints the final state
func (r *Runner) runStatic(p *Progress, op func() (*Result, error)) (*Result, error) {
	var mu sync.Mutex
	r.setSink(func(t hdm.Transition) {
		mu.Lock()
		p.Apply(t)
		mu.Unlock()
	})
	defer r.setSink(nil)

	result, err := op()

	mu.Lock()
	p.Finish(err)
	r.printer.Println(p.Render())
	mu.Unlock()
	return result, err
}

// runLive redraws the progress in a Bubble Tea program while op runs
func (r *Runner) runLive(p *Progress, op func() (*Result, error)) (*Result, error) {
	program := tea.NewProgram(NewExchangeModel(p),
		tea.WithOutput(r.printer.Writer()),
		tea.WithInput(nil),
	)
	r.setSink(func(t hdm.Transition) {
		program.Send(transitionMsg(t))
	})
	defer r.setSink(nil)

	var result *Result
	go func() {
		res, err := op()
		result = res
		program.Send(doneMsg{err: err})
	}()

	final, runErr := program.Run()
	if runErr != nil {
		return nil, runErr
	}
	m, ok := final.(ExchangeModel)
	if !ok {
		return nil, errors.New("unexpected program model")
	}
	return result, m.Err()
}
