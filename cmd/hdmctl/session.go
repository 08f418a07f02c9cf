package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/hdmctl/internal/config"
	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/transport"
	"github.com/muurk/hdmctl/internal/ui"
)

// retryInterval is the first pause between connect attempts
const retryInterval = 500 * time.Millisecond

// passwordReader reads a password without echo; replaced in tests
var passwordReader = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for the password")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(pw)), nil
}

// loadRegistry loads the registry named by --config or the default one
func loadRegistry() (*config.Registry, error) {
	return config.Load(configPath)
}

// newManager builds the session registry with the configured timeouts
func newManager(reg *config.Registry) (*transport.Manager, error) {
	connect, ioTimeout, err := reg.Preferences.Durations()
	if err != nil {
		return nil, fmt.Errorf("invalid preferences: %w", err)
	}
	return transport.NewManager(transport.Options{ConnectTimeout: connect, IOTimeout: ioTimeout}), nil
}

// connectRetries returns the configured number of reconnect attempts
func connectRetries(reg *config.Registry) uint64 {
	if reg.Preferences == nil || reg.Preferences.ConnectRetries < 0 {
		return 0
	}
	return uint64(reg.Preferences.ConnectRetries)
}

// openLedger opens the operation ledger next to the config file unless a
// path is configured
func openLedger(reg *config.Registry) (*ledger.FileLedger, error) {
	path := ""
	if reg.Preferences != nil {
		path = reg.Preferences.LedgerPath
	}
	if path == "" {
		path = filepath.Join(filepath.Dir(reg.Path()), "ledger.jsonl")
	}
	return ledger.OpenFile(path)
}

// resolveDevice builds the protocol device for name, prompting for the
// password when password_env does not provide one
func resolveDevice(reg *config.Registry, name string) (*hdm.Device, *config.Device, error) {
	settings := reg.GetDevice(name)
	if settings == nil {
		return nil, nil, fmt.Errorf("device %q is not configured (see 'hdmctl device list')", name)
	}
	dev := settings.Connection(name)
	if dev.Password == "" {
		pw, err := passwordReader(fmt.Sprintf("Password for %s: ", name))
		if err != nil {
			return nil, nil, err
		}
		dev.Password = pw
	}
	return dev, settings, nil
}

// operation is one device exchange run by runOperation. It returns the
// receipt, if any, and the success box to print.
type operation func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error)

// runOperation runs op against the named device with progress display,
// then saves the device sequence and records the outcome in the ledger
func runOperation(cmd *cobra.Command, name, title string, code protocol.Code, request any, op operation) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	dev, settings, err := resolveDevice(reg, name)
	if err != nil {
		return err
	}
	table, err := reg.ErrorTable()
	if err != nil {
		return err
	}
	manager, err := newManager(reg)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	l, err := openLedger(reg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	runner := ui.NewRunner(out, title, cmd.CommandPath()+" "+name, code)
	runner.Label = title + "..."
	runner.Params = []ui.Detail{
		{Key: "Device", Value: name},
		{Key: "Address", Value: fmt.Sprintf("%s:%d", settings.Host, settings.Port)},
		{Key: "Cashier", Value: fmt.Sprintf("%d", settings.Cashier)},
		{Key: "Sequence", Value: fmt.Sprintf("%d", dev.Seq.Current())},
	}

	if verbose && request != nil {
		printRequest(out, request)
	}

	client := hdm.NewClient(manager,
		hdm.WithErrorTable(table),
		hdm.WithObserver(runner),
		hdm.WithConnectRetries(connectRetries(reg), retryInterval),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, sent := ledger.Capture(ctx)

	var receipt *hdm.Receipt
	runErr := runner.Run(func() (*ui.Result, error) {
		var result *ui.Result
		var err error
		receipt, result, err = op(ctx, client, dev)
		return result, err
	})

	if err := reg.RecordSequence(name, dev.Seq.Current()); err != nil {
		logging.Warn("Failed to record sequence", zap.String("device", name), zap.Error(err))
	} else if err := reg.Save(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to save sequence %d for %s: %v\n", dev.Seq.Current(), name, err)
	}

	if err := l.Record(ledger.NewEntry(dev, code, request, receipt, runErr).WithSent(sent())); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to record operation in %s: %v\n", l.Path(), err)
	}

	if runErr != nil {
		return errReported
	}
	return nil
}

func printRequest(out io.Writer, request any) {
	data, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return
	}
	p := ui.NewPrinter(out)
	p.PrintDetail("Request", string(data))
	p.Newline()
}
