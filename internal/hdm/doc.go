// Package hdm runs request/response exchanges with HDM fiscal printers.
//
// A Client performs every operation as one self-contained exchange:
//
//  1. Lock the device and its session id
//  2. Close any transport left registered for the session
//  3. Connect (optionally retrying with exponential backoff)
//  4. Log in with code 2 and store the issued connection key
//  5. Seal the payload with the connection key and send it
//  6. For codes the device answers, read and open the response
//  7. Close the transport and clear the key, whatever happened
//
// The device sequence number advances once per completed round trip, so the
// login of step 4 counts as well as the message itself. Logout additionally
// bumps it before connecting. Callers persist Device.Seq.
//
// # Errors
//
// Every error returned by the Client is a *protocol.Error. Device status
// codes other than 200 become device errors whose HDMError() reads
// "<code>: <message>", with messages from the configured error table.
//
// # Usage Example
//
//	manager := transport.NewManager(transport.Options{})
//	defer manager.Shutdown()
//
//	client := hdm.NewClient(manager, hdm.WithConnectRetries(2, time.Second))
//
//	dev := hdm.NewDevice("1", "192.168.1.50", 8080)
//	dev.Cashier = 3
//	dev.Password = password
//	dev.PIN = pin
//
//	receipt, err := client.PrintReceipt(ctx, dev, &hdm.ReceiptRequest{
//	    Mode:       hdm.ModeSimple,
//	    Dep:        1,
//	    PaidAmount: 2500,
//	})
package hdm
