// Hdm-sim runs a simulated HDM fiscal printer.
//
// The simulator speaks the device side of the binary protocol: it checks
// logins, issues connection keys and answers receipts and returns with
// fiscal numbers. It is meant for developing against hdmctl and the bridge
// without a real device.
//
// Usage:
//
//	hdm-sim [flags]
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/discovery"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/simulator"
	"github.com/muurk/hdmctl/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Simulator flags
var (
	host        string
	port        int
	password    string
	passwordEnv string
	cashier     int
	pin         string
	crn         string
	advertise   bool
	instance    string
	faults      []string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "hdm-sim",
	Short: "Simulated HDM fiscal printer",
	Long: `Run a simulated HDM fiscal printer on a TCP port.

The simulator accepts logins for one cashier, issues a fresh connection key
per login and answers receipts and returns with consecutive fiscal numbers.
Use --fault to make it answer a message code with an error status.`,
	Example: `  # Simulator on port 8080 for cashier 3
  hdm-sim --port 8080 --password secret --cashier 3 --pin 1234

  # Reject every receipt with status 500 and announce over mDNS
  hdm-sim --port 8080 --password secret --fault 4=500 --advertise`,
	Version:      version.Version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runSimulator,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.Flags()
	f.StringVar(&host, "host", "127.0.0.1", "Listen address")
	f.IntVar(&port, "port", 8080, "Listen port (0 picks a free port)")
	f.StringVar(&password, "password", "", "Device password")
	f.StringVar(&passwordEnv, "password-env", "", "Environment variable holding the device password")
	f.IntVar(&cashier, "cashier", 3, "Accepted cashier id")
	f.StringVar(&pin, "pin", "", "Accepted cashier PIN")
	f.StringVar(&crn, "crn", "", "Cash register number reported in receipts")
	f.BoolVar(&advertise, "advertise", false, "Announce the simulator over mDNS")
	f.StringVar(&instance, "instance", "hdm-sim", "mDNS instance name")
	f.StringArrayVar(&faults, "fault", nil, "Answer a message code with a status, as CODE=STATUS (repeatable)")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runSimulator(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	defer logging.Sync()

	if passwordEnv != "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or --password-env)")
	}

	parsed, err := parseFaults(faults)
	if err != nil {
		return err
	}

	sim, err := simulator.New(&simulator.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Cashier:  cashier,
		PIN:      pin,
		CRN:      crn,
	})
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}
	for code, status := range parsed {
		sim.SetFault(code, simulator.Fault{Status: status})
		logging.Info("Fault installed", zap.String("code", code.String()), zap.Int("status", int(status)))
	}

	if err := sim.Listen(); err != nil {
		return err
	}
	_, boundPort := sim.HostPort()
	fmt.Fprintf(cmd.OutOrStdout(), "HDM simulator listening on %s (cashier %d)\n",
		net.JoinHostPort(host, strconv.Itoa(boundPort)), cashier)

	if advertise {
		reportedCRN := crn
		if reportedCRN == "" {
			reportedCRN = simulator.DefaultCRN
		}
		adv, err := discovery.Advertise(instance, discovery.ServiceDevice, boundPort,
			[]string{"crn=" + reportedCRN, "version=" + version.Version})
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	// Listen already ran
	return sim.Wait(context.Background())
}

// parseFaults parses CODE=STATUS pairs
func parseFaults(values []string) (map[protocol.Code]protocol.Status, error) {
	out := make(map[protocol.Code]protocol.Status, len(values))
	for _, v := range values {
		c, s, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("fault %q: expected CODE=STATUS", v)
		}
		code, err := strconv.ParseUint(strings.TrimSpace(c), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("fault %q: invalid message code", v)
		}
		status, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || status < 100 || status > 999 {
			return nil, fmt.Errorf("fault %q: invalid status", v)
		}
		out[protocol.Code(code)] = protocol.Status(status)
	}
	return out, nil
}
