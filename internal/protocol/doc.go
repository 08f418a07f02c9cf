// Package protocol implements the HDM fiscal device wire protocol.
//
// This package handles construction and parsing of the binary envelopes that
// carry encrypted JSON commands between a cash register and an HDM fiscal
// printer. It also owns the status code table and the error taxonomy shared by
// the transport and request engine packages.
//
// # Request Envelope
//
// Every request sent to the device has a 12-byte header:
//   - Bytes 0-6: Magic prefix (D5 80 D4 B4 D5 84 00)
//   - Byte 7: Protocol version (0x05)
//   - Byte 8: Message code (see Code)
//   - Byte 9: Reserved (0x00)
//   - Bytes 10-11: Payload length (big-endian uint16)
//   - Bytes 12+: Encrypted payload
//
// # Response Envelope
//
// Responses from the device have an 11-byte header:
//   - Bytes 0-4: Reserved
//   - Bytes 5-6: Status code (big-endian uint16, 200 = OK)
//   - Bytes 7-8: Reserved
//   - Bytes 9-10: Body length (big-endian uint16)
//   - Bytes 11+: Encrypted body
//
// # Message Codes
//
// The codes used by the client are:
//   - 2: Login (must precede any other code, yields a connection key)
//   - 3: Logout / session end
//   - 4: Print receipt
//   - 6: Print return receipt
//   - 10: Synchronize device time
//
// Only login, receipt and return codes produce a response; the others are
// fire-and-forget.
//
// # Usage Example
//
//	frame, err := protocol.EncodeRequest(protocol.CodePrintReceipt, sealed)
//	if err != nil {
//	    return err
//	}
//	if _, err := conn.Write(frame); err != nil {
//	    return err
//	}
//
//	status, body, err := protocol.ReadResponse(conn)
//	if err != nil {
//	    return err
//	}
//	if !status.OK() {
//	    return protocol.NewDeviceError(status, table.Lookup(status))
//	}
//
// # Frame Reassembly
//
// ReadRequest and ReadResponse read the fixed header and then exactly the
// declared number of payload bytes, so a frame split across several TCP
// segments is reassembled. Callers bound the total read time with a
// connection deadline.
//
// # Thread Safety
//
// Encoding and decoding functions are stateless and safe for concurrent use.
// An ErrorTable is read-only after construction.
package protocol
