// Package ledger keeps an append-only record of fiscal operations.
//
// Every exchange the bridge or CLI runs against a device is recorded as an
// Entry: which device and session, the message code, the request that was
// sent (never login credentials), and either the device's receipt answer or
// the error in "<code>: <message>" form.
//
// Two implementations are provided. FileLedger appends JSON lines to a file
// and survives restarts; MemoryLedger is used by tests and by the bridge
// when no ledger path is configured. Both fan new entries out to
// subscribers, which is how the bridge streams them over WebSocket.
package ledger
