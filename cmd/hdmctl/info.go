package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/hdmctl/internal/discovery"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/ui"
)

func init() {
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List device status codes and their messages",
	Long: `List the status codes HDM devices answer with, including the
overrides from the error_codes section of the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		table, err := reg.ErrorTable()
		if err != nil {
			return err
		}
		codes := table.Codes()
		rows := make([][]string, 0, len(codes))
		for _, code := range codes {
			rows = append(rows, []string{strconv.Itoa(int(code)), table.Lookup(code)})
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"CODE", "MESSAGE"}, rows)
		return nil
	},
}

// Scan flags
var (
	scanTimeout int
	scanBridges bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for HDM devices on the network",
	Long: `Scan for HDM devices using mDNS/DNS-SD discovery.

Endpoints that advertise _hdm._tcp (such as hdm-sim) are listed with their
address and metadata. With --bridges, running hdmctl bridges are listed
instead.`,
	Example: `  # Scan with the configured timeout
  hdmctl scan

  # Find bridges
  hdmctl scan --bridges --timeout 3`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Scan timeout in seconds (default: discover_timeout preference)")
	scanCmd.Flags().BoolVar(&scanBridges, "bridges", false, "Scan for bridges instead of devices")
}

func runScan(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	service := discovery.ServiceDevice
	if scanBridges {
		service = discovery.ServiceBridge
	}
	scanner := discovery.NewScanner(service)
	switch {
	case scanTimeout > 0:
		scanner.Timeout = time.Duration(scanTimeout) * time.Second
	case reg.Preferences != nil && reg.Preferences.DiscoverTimeout > 0:
		scanner.Timeout = time.Duration(reg.Preferences.DiscoverTimeout) * time.Second
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning for %s (timeout: %s)...\n\n", service, scanner.Timeout)

	services, err := scanner.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(services) == 0 {
		fmt.Fprintln(out, "Nothing found.")
		fmt.Fprintln(out, "\nTroubleshooting:")
		fmt.Fprintln(out, "  - Ensure the simulator was started with --advertise")
		fmt.Fprintln(out, "  - Multicast traffic may be blocked between subnets")
		fmt.Fprintln(out, "  - Try increasing --timeout")
		fmt.Fprintln(out, "  - Use 'hdmctl device add --host' if discovery fails")
		return nil
	}

	rows := make([][]string, 0, len(services))
	for _, s := range services {
		rows = append(rows, []string{s.Instance, s.Addr(), s.Hostname, s.GetMetadata("crn")})
	}
	ui.NewPrinter(out).PrintTable([]string{"INSTANCE", "ADDRESS", "HOST", "CRN"}, rows)

	if !scanBridges {
		fmt.Fprintln(out, "\nUse 'hdmctl device add <name> --host <ip> --port <port>' to register a device")
	}
	return nil
}

// Ledger flags
var (
	ledgerDevice string
	ledgerCode   string
	ledgerLimit  int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show recorded operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		l, err := openLedger(reg)
		if err != nil {
			return err
		}

		filter := ledger.Filter{Device: ledgerDevice, Limit: ledgerLimit}
		if ledgerCode != "" {
			code, err := strconv.ParseUint(ledgerCode, 10, 8)
			if err != nil {
				return fmt.Errorf("code %q is not a message code", ledgerCode)
			}
			filter.Code = protocol.Code(code)
		}

		entries, err := l.Entries(filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "No operations recorded in %s.\n", l.Path())
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			result := "ok"
			if !e.Success {
				result = e.Error
			} else if e.Receipt != nil {
				result = e.Receipt.Fiscal
			}
			rows = append(rows, []string{
				e.Time.Local().Format("2006-01-02 15:04:05"),
				e.Device,
				e.Operation,
				strconv.Itoa(e.Seq),
				result,
			})
		}
		ui.NewPrinter(out).PrintTable([]string{"TIME", "DEVICE", "OPERATION", "SEQ", "RESULT"}, rows)
		return nil
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerDevice, "device", "", "Only this device")
	ledgerCmd.Flags().StringVar(&ledgerCode, "code", "", "Only this message code (2 login, 3 logout, 4 receipt, 6 return, 10 sync)")
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "Most recent N entries (0 for all)")
}
