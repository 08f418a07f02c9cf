package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/hdmctl/internal/bridge"
)

// Serve flags
var (
	serveAddr      string
	serveCert      string
	serveKey       string
	serveAdvertise bool
	serveInstance  string
	servePrompt    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge",
	Long: `Run the HTTP bridge that point-of-sale front ends use to reach the
configured devices.

The bridge exposes a JSON API under /api and streams exchange progress and
recorded operations over the /ws/events WebSocket. Passwords come from each
device's password_env; with --prompt, devices without one are asked for at
startup.`,
	Example: `  # Local bridge on the configured address
  hdmctl serve

  # Reachable from the shop network over TLS, announced via mDNS
  hdmctl serve --addr 0.0.0.0:8787 --cert cert.pem --key key.pem --advertise`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "Listen address (default: bridge_addr preference)")
	f.StringVar(&serveCert, "cert", "", "TLS certificate file")
	f.StringVar(&serveKey, "key", "", "TLS private key file")
	f.BoolVar(&serveAdvertise, "advertise", false, "Announce the bridge over mDNS")
	f.StringVar(&serveInstance, "instance", "hdmctl", "mDNS instance name")
	f.BoolVar(&servePrompt, "prompt", false, "Prompt for passwords of devices without password_env")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if (serveCert == "") != (serveKey == "") {
		return fmt.Errorf("both --cert and --key must be provided together")
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	manager, err := newManager(reg)
	if err != nil {
		return err
	}
	l, err := openLedger(reg)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" && reg.Preferences != nil {
		addr = reg.Preferences.BridgeAddr
	}

	passwords := make(map[string]string)
	for _, name := range reg.DeviceNames() {
		if reg.GetDevice(name).Connection(name).Password != "" {
			continue
		}
		if !servePrompt {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: device %s has no password_env; its requests will fail (use --prompt)\n", name)
			continue
		}
		pw, err := passwordReader(fmt.Sprintf("Password for %s: ", name))
		if err != nil {
			return err
		}
		passwords[name] = pw
	}

	srv, err := bridge.New(&bridge.Config{
		Addr:           addr,
		CertPath:       serveCert,
		KeyPath:        serveKey,
		Advertise:      serveAdvertise,
		Instance:       serveInstance,
		ConnectRetries: connectRetries(reg),
		RetryInterval:  retryInterval,
		Passwords:      passwords,
	}, reg, manager, l)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	scheme := "http"
	if serveCert != "" {
		scheme = "https"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bridge listening on %s://%s (%d devices, ledger %s)\n", scheme, srv.Addr(), len(reg.DeviceNames()), l.Path())
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	start := time.Now()
	err = srv.Start(context.Background())
	fmt.Fprintf(out, "Bridge stopped after %s\n", time.Since(start).Round(time.Second))
	return err
}
