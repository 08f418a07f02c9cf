// Package bridge exposes configured fiscal devices over a small HTTP API.
//
// The bridge is the job layer a point-of-sale front end talks to. It owns a
// transport.Manager and an hdm.Client, keeps one hdm.Device per configured
// device so sequence numbers survive between requests, records every
// operation in a ledger, and persists the sequence back to the config file.
//
// # Endpoints
//
//	GET  /api/health                      version and open sessions
//	GET  /api/devices                     configured devices
//	GET  /api/errors                      device status message table
//	GET  /api/ledger?device=&code=&limit= recorded operations
//	POST /api/devices/{name}/login        check credentials
//	POST /api/devices/{name}/receipts     print a receipt (hdm.ReceiptRequest)
//	POST /api/devices/{name}/returns      print a return (hdm.ReturnRequest)
//	POST /api/devices/{name}/time-sync    synchronize the device clock
//	POST /api/devices/{name}/logout       end the cashier shift
//	GET  /ws/events                       WebSocket stream of events
//
// Successful calls answer {"success": true, "data": ...}. Failures answer
// {"success": false, "hdm_error": "<code>: <message>", "kind": "..."} with
// an HTTP status chosen from the error kind.
//
// # Events
//
// /ws/events pushes JSON text messages of two types: "transition" for every
// exchange state change and "ledger" for every recorded operation. The
// server pings idle clients and drops those that stop answering.
//
// # Passwords
//
// Device passwords come from Config.Passwords or the device's password_env
// variable. They are never accepted over HTTP and never written to the
// ledger.
package bridge
