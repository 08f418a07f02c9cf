package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/hdmctl/internal/config"
	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ui"
)

func init() {
	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
	rootCmd.AddCommand(deviceCmd)
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage the device registry",
}

// Device add flags
var (
	addHost          string
	addPort          int
	addCashier       int
	addPIN           string
	addPasswordEnv   string
	addDepartment    int
	addMode          int
	addPaymentSystem int
	addExtPOS        bool
	addSeq           int
)

var deviceAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a device",
	Long: `Add a device to the registry, or update an existing one.

The password is never written to the registry. Name an environment variable
with --password-env, or enter the password when prompted.

Updating a device keeps its saved sequence unless --seq is given.`,
	Example: `  hdmctl device add front --host 192.168.1.50 --port 8080 --cashier 3 --pin 1234 \
    --password-env FRONT_HDM_PASSWORD --department 1`,
	Args: cobra.ExactArgs(1),
	RunE: runDeviceAdd,
}

func init() {
	f := deviceAddCmd.Flags()
	f.StringVar(&addHost, "host", "", "Device IP address or hostname")
	f.IntVar(&addPort, "port", 0, "Device TCP port")
	f.IntVar(&addCashier, "cashier", 0, "Cashier id")
	f.StringVar(&addPIN, "pin", "", "Cashier PIN")
	f.StringVar(&addPasswordEnv, "password-env", "", "Environment variable holding the device password")
	f.IntVar(&addDepartment, "department", 0, "Department for simple receipts")
	f.IntVar(&addMode, "mode", 0, "Default receipt mode: 1 simple, 2 items, 3 prepayment")
	f.IntVar(&addPaymentSystem, "payment-system", 0, "Payment system id")
	f.BoolVar(&addExtPOS, "ext-pos", false, "Card payments go through an external POS terminal")
	f.IntVar(&addSeq, "seq", 0, "Next request sequence")
	_ = deviceAddCmd.MarkFlagRequired("host")
	_ = deviceAddCmd.MarkFlagRequired("port")
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	d := &config.Device{
		Host:          addHost,
		Port:          addPort,
		Cashier:       addCashier,
		PIN:           addPIN,
		PasswordEnv:   addPasswordEnv,
		PaymentSystem: addPaymentSystem,
		UseExtPOS:     addExtPOS,
		Department:    addDepartment,
		Mode:          addMode,
	}
	if cmd.Flags().Changed("seq") {
		d.Seq = addSeq
	}
	if err := reg.SetDevice(name, d); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	saved := reg.GetDevice(name)
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintSuccess("Device saved",
		ui.Detail{Key: "Name", Value: name},
		ui.Detail{Key: "Address", Value: fmt.Sprintf("%s:%d", saved.Host, saved.Port)},
		ui.Detail{Key: "Sequence", Value: strconv.Itoa(saved.Seq)},
		ui.Detail{Key: "Config", Value: reg.Path()},
	)
	return nil
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured devices",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		names := reg.DeviceNames()
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintf(out, "No devices configured in %s.\n", reg.Path())
			fmt.Fprintln(out, "Use 'hdmctl device add' to add one.")
			return nil
		}

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			d := reg.GetDevice(name)
			mode := hdm.ModeSimple
			if d.Mode != 0 {
				mode = hdm.ReceiptMode(d.Mode)
			}
			lastUsed := "never"
			if !d.LastUsed.IsZero() {
				lastUsed = d.LastUsed.Local().Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				name,
				fmt.Sprintf("%s:%d", d.Host, d.Port),
				strconv.Itoa(d.Cashier),
				mode.String(),
				strconv.Itoa(d.Seq),
				lastUsed,
			})
		}
		ui.NewPrinter(out).PrintTable([]string{"NAME", "ADDRESS", "CASHIER", "MODE", "SEQ", "LAST USED"}, rows)
		return nil
	},
}

var removeYes bool

var deviceRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a device from the registry",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		d := reg.GetDevice(name)
		if d == nil {
			return fmt.Errorf("device %q is not configured", name)
		}

		if !removeYes {
			warnings := []string{
				fmt.Sprintf("The saved request sequence (%d) is lost", d.Seq),
				"Re-adding the device starts the sequence from scratch unless --seq is given",
			}
			if !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove device "+name, warnings, name) {
				return errReported
			}
		}

		reg.RemoveDevice(name)
		if err := reg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed device %s.\n", name)
		return nil
	},
}

func init() {
	deviceRemoveCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Do not ask for confirmation")
}
