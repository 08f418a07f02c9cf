// Package discovery finds HDM simulators and bridges on the local network.
//
// Real fiscal printers are configured by address and do not announce
// themselves. The development simulator (hdm-sim) and the HTTP bridge
// (hdmctl serve) can advertise themselves over multicast DNS so that
// "hdmctl scan" lists them without any configuration.
//
// # Service Types
//
//   - _hdm._tcp: a device-protocol endpoint (the simulator)
//   - _hdm-bridge._tcp: an hdmctl HTTP bridge
//
// TXT records carry key=value metadata such as "crn", "version" and "proto".
//
// # Usage Example
//
//	adv, err := discovery.Advertise("front-sim", discovery.ServiceDevice, 9000,
//	    []string{"crn=53219876"})
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
//	scanner := discovery.NewScanner(discovery.ServiceDevice)
//	scanner.Timeout = 3 * time.Second
//	services, err := scanner.Scan(ctx)
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Advertiser and scanner must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
