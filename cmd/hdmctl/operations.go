package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/ui"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(returnCmd)
	rootCmd.AddCommand(syncTimeCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <device>",
	Short: "Check credentials and connectivity",
	Long: `Log in to the device and disconnect.

The login exchange verifies the password, cashier and PIN without printing
anything. The completed login advances the request sequence by one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, args[0], "Log in", protocol.CodeLogin, nil,
			func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error) {
				if err := client.Login(ctx, dev); err != nil {
					return nil, nil, err
				}
				return nil, ui.NewSuccessResult("Logged in",
					ui.Detail{Key: "Device", Value: dev.Name},
					ui.Detail{Key: "Cashier", Value: strconv.Itoa(dev.Cashier)},
				), nil
			})
	},
}

// Receipt command flags
var (
	receiptFile       string
	receiptMode       int
	receiptDep        int
	receiptCash       float64
	receiptCard       float64
	receiptPartial    float64
	receiptPrepayment float64
	receiptPartnerTin string
)

var receiptCmd = &cobra.Command{
	Use:   "receipt <device>",
	Short: "Print a sale receipt",
	Long: `Print a sale receipt on the device.

Simple and prepayment receipts can be described with flags. Itemized
receipts are read as JSON from --file ("-" reads standard input); flags
given alongside --file override the file's amounts.`,
	Example: `  # 2500 AMD in cash on the device's department
  hdmctl receipt front --cash 2500

  # Split payment
  hdmctl receipt front --cash 1000 --card 1500

  # Itemized receipt
  hdmctl receipt front --file receipt.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReceipt,
}

func init() {
	f := receiptCmd.Flags()
	f.StringVarP(&receiptFile, "file", "f", "", `Receipt request as JSON ("-" for stdin)`)
	f.IntVar(&receiptMode, "mode", 0, "Receipt mode: 1 simple, 2 items, 3 prepayment (default: device mode)")
	f.IntVar(&receiptDep, "dep", 0, "Department for simple receipts (default: device department)")
	f.Float64Var(&receiptCash, "cash", 0, "Amount paid in cash")
	f.Float64Var(&receiptCard, "card", 0, "Amount paid by card")
	f.Float64Var(&receiptPartial, "partial", 0, "Partially paid amount")
	f.Float64Var(&receiptPrepayment, "prepayment", 0, "Amount covered by an earlier prepayment")
	f.StringVar(&receiptPartnerTin, "partner-tin", "", "Buyer's taxpayer identification number")
}

func runReceipt(cmd *cobra.Command, args []string) error {
	req := &hdm.ReceiptRequest{}
	if receiptFile != "" {
		if err := readJSON(cmd.InOrStdin(), receiptFile, req); err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		req.Mode = hdm.ReceiptMode(receiptMode)
	}
	if flags.Changed("dep") {
		req.Dep = receiptDep
	}
	if flags.Changed("cash") {
		req.PaidAmount = receiptCash
	}
	if flags.Changed("card") {
		req.PaidAmountCard = receiptCard
	}
	if flags.Changed("partial") {
		req.PartialAmount = receiptPartial
	}
	if flags.Changed("prepayment") {
		req.PrePaymentAmount = receiptPrepayment
	}
	if receiptPartnerTin != "" {
		tin := receiptPartnerTin
		req.PartnerTin = &tin
	}
	if receiptFile == "" && req.PaidAmount == 0 && req.PaidAmountCard == 0 && req.PrePaymentAmount == 0 {
		return fmt.Errorf("nothing to print: give --cash, --card, --prepayment or --file")
	}

	return runOperation(cmd, args[0], "Print receipt", protocol.CodePrintReceipt, req,
		func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error) {
			receipt, err := client.PrintReceipt(ctx, dev, req)
			if err != nil {
				return nil, nil, err
			}
			return receipt, receiptResult("Receipt printed", receipt), nil
		})
}

// Return command flags
var (
	returnFile       string
	returnCRN        string
	returnTicket     string
	returnCash       float64
	returnCard       float64
	returnPrepayment float64
	returnItems      []string
)

var returnCmd = &cobra.Command{
	Use:   "return <device>",
	Short: "Print a return receipt",
	Long: `Print a return against an earlier receipt.

Without --item the whole receipt is returned. Each --item takes the
receipt line number and quantity as RPID:QTY.`,
	Example: `  # Return a whole receipt
  hdmctl return front --receipt 1042

  # Return two units of the third line
  hdmctl return front --receipt 1042 --item 3:2 --cash 600`,
	Args: cobra.ExactArgs(1),
	RunE: runReturn,
}

func init() {
	f := returnCmd.Flags()
	f.StringVarP(&returnFile, "file", "f", "", `Return request as JSON ("-" for stdin)`)
	f.StringVar(&returnCRN, "crn", "", "Cash register number of the original receipt (default: from the device's last ledger receipt)")
	f.StringVar(&returnTicket, "receipt", "", "Number of the original receipt")
	f.Float64Var(&returnCash, "cash", 0, "Amount returned in cash")
	f.Float64Var(&returnCard, "card", 0, "Amount returned by card")
	f.Float64Var(&returnPrepayment, "prepayment", 0, "Prepayment amount returned")
	f.StringArrayVar(&returnItems, "item", nil, "Line to return as RPID:QTY (repeatable)")
}

func runReturn(cmd *cobra.Command, args []string) error {
	req := &hdm.ReturnRequest{}
	if returnFile != "" {
		if err := readJSON(cmd.InOrStdin(), returnFile, req); err != nil {
			return err
		}
	}

	if returnCRN != "" {
		req.CRN = returnCRN
	}
	if returnTicket != "" {
		req.ReturnTicketID = returnTicket
	}
	flags := cmd.Flags()
	if flags.Changed("cash") {
		req.CashAmountForReturn = returnCash
	}
	if flags.Changed("card") {
		req.CardAmountForReturn = returnCard
	}
	if flags.Changed("prepayment") {
		req.PrePaymentAmountForReturn = returnPrepayment
	}
	if len(returnItems) > 0 {
		items, err := parseReturnItems(returnItems)
		if err != nil {
			return err
		}
		req.ReturnItems = items
	}
	if req.CRN == "" {
		crn, err := lastCRN(args[0])
		if err != nil {
			return err
		}
		req.CRN = crn
	}

	return runOperation(cmd, args[0], "Print return", protocol.CodePrintReturn, req,
		func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error) {
			receipt, err := client.PrintReturn(ctx, dev, req)
			if err != nil {
				return nil, nil, err
			}
			return receipt, receiptResult("Return printed", receipt), nil
		})
}

var syncTimeCmd = &cobra.Command{
	Use:   "sync-time <device>",
	Short: "Synchronize the device clock",
	Long: `Ask the device to synchronize its clock.

The request runs on the device's separate sync session. The login and the
sync message each advance the request sequence by one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, args[0], "Sync time", protocol.CodeSyncTime, nil,
			func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error) {
				if err := client.SyncTime(ctx, dev); err != nil {
					return nil, nil, err
				}
				return nil, ui.NewSuccessResult("Time sync requested",
					ui.Detail{Key: "Device", Value: dev.Name},
					ui.Detail{Key: "Next sequence", Value: strconv.Itoa(dev.Seq.Current())},
				), nil
			})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout <device>",
	Short: "End the cashier's shift",
	Long: `Send the logout message that ends the cashier's shift.

The request sequence is bumped before connecting, so a logout that never
reaches the device still uses up a number.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd, args[0], "Log out", protocol.CodeLogout, nil,
			func(ctx context.Context, client *hdm.Client, dev *hdm.Device) (*hdm.Receipt, *ui.Result, error) {
				if err := client.Logout(ctx, dev); err != nil {
					return nil, nil, err
				}
				return nil, ui.NewSuccessResult("Shift closed",
					ui.Detail{Key: "Device", Value: dev.Name},
					ui.Detail{Key: "Next sequence", Value: strconv.Itoa(dev.Seq.Current())},
				), nil
			})
	},
}

func receiptResult(title string, r *hdm.Receipt) *ui.Result {
	return ui.NewSuccessResult(title,
		ui.Detail{Key: "Fiscal", Value: r.Fiscal},
		ui.Detail{Key: "Receipt", Value: strconv.Itoa(r.RSeq)},
		ui.Detail{Key: "CRN", Value: r.CRN},
		ui.Detail{Key: "Total", Value: strconv.FormatFloat(r.Total, 'f', 2, 64)},
	)
}

// lastCRN returns the cash register number of the device's most recent
// receipt in the ledger, or "" when there is none
func lastCRN(name string) (string, error) {
	reg, err := loadRegistry()
	if err != nil {
		return "", err
	}
	l, err := openLedger(reg)
	if err != nil {
		return "", err
	}
	entries, err := l.Entries(ledger.Filter{Device: name})
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if r := entries[i].Receipt; r != nil && r.CRN != "" {
			return r.CRN, nil
		}
	}
	return "", nil
}

// readJSON decodes a request from path, or from in when path is "-"
func readJSON(in io.Reader, path string, v any) error {
	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request in %s: %w", path, err)
	}
	return nil
}

// parseReturnItems parses RPID:QTY pairs
func parseReturnItems(values []string) ([]hdm.ReturnItem, error) {
	items := make([]hdm.ReturnItem, 0, len(values))
	for _, v := range values {
		rpid, qty, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("item %q: expected RPID:QTY", v)
		}
		id, err := strconv.Atoi(strings.TrimSpace(rpid))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("item %q: invalid line number", v)
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(qty), 64)
		if err != nil || q <= 0 {
			return nil, fmt.Errorf("item %q: invalid quantity", v)
		}
		items = append(items, hdm.ReturnItem{RPID: id, Quantity: q})
	}
	return items, nil
}
