// Package simulator implements the device side of the HDM protocol.
//
// The simulator accepts TCP connections, reads request envelopes, performs
// the login exchange with the configured password, cashier and PIN, and
// answers receipt and return requests with generated fiscal numbers. It is
// used by the package tests of the request engine and the bridge, and by the
// hdm-sim binary for local development without a fiscal printer.
//
// # Behaviour
//
//   - Login (code 2): opened with the password key. Matching credentials get a
//     fresh connection key, bad ones get status 111.
//   - Receipt (4) and return (6): opened with the connection key issued on
//     the same connection, answered with {"rseq","fiscal","crn","total"}.
//   - Logout (3) and time sync (10): recorded, never answered.
//   - Any non-login request before login gets status 112.
//
// # Fault Injection
//
// Tests install a Fault per message code to exercise error paths:
//
//	sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Status: 500})
//	sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Delay: time.Second})
//	sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Fragment: true})
//
// # Usage Example
//
//	sim, err := simulator.New(&simulator.Config{
//	    Password: "secret",
//	    Cashier:  3,
//	    PIN:      "1234",
//	})
//	if err != nil {
//	    return err
//	}
//	if err := sim.Listen(); err != nil {
//	    return err
//	}
//	defer sim.Shutdown(context.Background())
//
//	host, port := sim.HostPort()
package simulator
