// Package ui provides terminal UI components for the hdmctl CLI.
//
// This package uses Bubble Tea, Bubbles and Lipgloss to render device
// operations. The components follow a "run once and exit" pattern: they
// render output but never wait for user interaction, except Confirm.
//
// # Architecture
//
//   - Header: Command banner showing the operation and its device
//   - Progress: Progress bar with one step per exchange state
//   - Result: Success/failure boxes; failures carry troubleshooting tips
//     derived from the HDM error type
//   - RenderTable: Aligned listings (devices, error codes, ledger)
//
// These components are orchestrated by the Runner, which manages the
// header → progress → result flow. The Runner is an hdm.Observer: the
// client reports every state transition to it and the progress display
// follows. On a terminal the progress is redrawn live by a Bubble Tea
// program; otherwise the final state is printed once.
//
// # Usage Pattern
//
//	runner := ui.NewRunner(nil, "Print Receipt", "hdmctl receipt front", protocol.CodePrintReceipt)
//	client := hdm.NewClient(manager, hdm.WithObserver(runner))
//	err := runner.Run(func() (*ui.Result, error) {
//	    receipt, err := client.PrintReceipt(ctx, dev, req)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return ui.NewSuccessResult("Receipt printed",
//	        ui.Detail{Key: "Fiscal", Value: receipt.Fiscal}), nil
//	})
package ui
