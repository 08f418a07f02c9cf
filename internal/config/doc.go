// Package config manages the hdmctl configuration file.
//
// The file stores the fiscal devices this host talks to (address, cashier,
// PIN, receipt defaults and the persisted sequence number), overrides for
// the device status message table, and application preferences.
//
// # Configuration File Location
//
// The default file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/hdmctl/config.yaml or $HOME/.config/hdmctl/config.yaml
//   - macOS: $HOME/.config/hdmctl/config.yaml
//   - Windows: %LOCALAPPDATA%\hdmctl\config.yaml
//
// Any other path may be passed to Load. Paths ending in .toml are read and
// written as TOML, all others as YAML.
//
// # Security
//
// Device passwords are never written to the file. A device may name an
// environment variable in password_env; otherwise the CLI prompts.
//
// # Example
//
//	version: 1
//	devices:
//	  front:
//	    host: 192.168.1.50
//	    port: 8080
//	    cashier: 3
//	    pin: "1234"
//	    password_env: HDM_FRONT_PASSWORD
//	    department: 1
//	    seq: 118
//	error_codes:
//	  "500": "Printer service required"
//	preferences:
//	  connect_timeout: 10s
//	  io_timeout: 10s
//	  connect_retries: 2
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Save is protected by a
// package mutex and writes atomically (temporary file and rename).
package config
