package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// ProtocolVersion is the protocol version byte sent in every request
	ProtocolVersion = 0x05

	// RequestHeaderSize is the size of the request header in bytes
	RequestHeaderSize = 12

	// ResponseHeaderSize is the size of the response header in bytes.
	// The encrypted body starts at this offset.
	ResponseHeaderSize = 11

	// MaxPayloadSize is the largest payload a 2-byte length field can describe
	MaxPayloadSize = 0xFFFF

	// Response header offsets
	statusOffset       = 5
	responseLenOffset  = 9
	requestCodeOffset  = 8
	requestLenOffset   = 10
	defaultPrefixBytes = 8
)

// magic is the fixed 7-byte prefix of every request
var magic = [7]byte{0xD5, 0x80, 0xD4, 0xB4, 0xD5, 0x84, 0x00}

// DefaultHeaderPrefix returns the constant part of a request header:
// the magic bytes followed by the protocol version.
func DefaultHeaderPrefix() []byte {
	prefix := make([]byte, 0, defaultPrefixBytes)
	prefix = append(prefix, magic[:]...)
	return append(prefix, ProtocolVersion)
}

// DynamicHeader returns the per-message header fields for a code
func DynamicHeader(code Code) []byte {
	return []byte{byte(code), 0x00}
}

// Request is a decoded request envelope (device side)
type Request struct {
	Code    Code
	Payload []byte
}

// EncodeRequest builds a complete request envelope
//
// Layout:
//
//	[0-7]   prefix     DefaultHeaderPrefix()
//	[8-9]   dynamic    DynamicHeader(code)
//	[10-11] length     len(payload), big-endian
//	[12+]   payload    encrypted JSON
func EncodeRequest(code Code, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, RequestHeaderSize+len(payload))
	frame = append(frame, DefaultHeaderPrefix()...)
	frame = append(frame, DynamicHeader(code)...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)

	return frame, nil
}

// DecodeRequest parses a complete request envelope
func DecodeRequest(raw []byte) (*Request, error) {
	if len(raw) < RequestHeaderSize {
		return nil, NewDecodeError(fmt.Sprintf("request too short: %d bytes (need %d)", len(raw), RequestHeaderSize), nil)
	}

	for i, b := range magic {
		if raw[i] != b {
			return nil, NewDecodeError(fmt.Sprintf("bad magic byte %d: 0x%02X", i, raw[i]), nil)
		}
	}
	if raw[len(magic)] != ProtocolVersion {
		return nil, NewDecodeError(fmt.Sprintf("unsupported protocol version 0x%02X", raw[len(magic)]), nil)
	}

	length := int(binary.BigEndian.Uint16(raw[requestLenOffset:RequestHeaderSize]))
	payload := raw[RequestHeaderSize:]
	if len(payload) != length {
		return nil, NewDecodeError(fmt.Sprintf("length field %d does not match payload size %d", length, len(payload)), nil)
	}

	return &Request{
		Code:    Code(raw[requestCodeOffset]),
		Payload: payload,
	}, nil
}

// EncodeResponse builds a complete response envelope (device side)
//
// Layout:
//
//	[0-4]   reserved
//	[5-6]   status     big-endian
//	[7-8]   reserved
//	[9-10]  length     len(body), big-endian
//	[11+]   body       encrypted JSON
func EncodeResponse(status Status, body []byte) ([]byte, error) {
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("body too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	frame := make([]byte, ResponseHeaderSize, ResponseHeaderSize+len(body))
	binary.BigEndian.PutUint16(frame[statusOffset:statusOffset+2], uint16(status))
	binary.BigEndian.PutUint16(frame[responseLenOffset:ResponseHeaderSize], uint16(len(body)))
	frame = append(frame, body...)

	return frame, nil
}

// DecodeResponse reads the status code at bytes 5-6 and returns the body
// starting at offset 11.
func DecodeResponse(raw []byte) (Status, []byte, error) {
	if len(raw) < ResponseHeaderSize {
		return 0, nil, NewDecodeError(fmt.Sprintf("response too short: %d bytes (need %d)", len(raw), ResponseHeaderSize), nil)
	}

	status := Status(binary.BigEndian.Uint16(raw[statusOffset : statusOffset+2]))
	length := int(binary.BigEndian.Uint16(raw[responseLenOffset:ResponseHeaderSize]))
	body := raw[ResponseHeaderSize:]
	if len(body) != length {
		return status, nil, NewDecodeError(fmt.Sprintf("length field %d does not match body size %d", length, len(body)), nil)
	}

	return status, body, nil
}

// ReadRequest reads one request envelope from r, waiting until the declared
// payload length has arrived.
func ReadRequest(r io.Reader) (*Request, error) {
	header := make([]byte, RequestHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read request header: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[requestLenOffset:RequestHeaderSize]))
	frame := make([]byte, RequestHeaderSize+length)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[RequestHeaderSize:]); err != nil {
		return nil, fmt.Errorf("failed to read request payload (%d bytes): %w", length, err)
	}

	return DecodeRequest(frame)
}

// ReadResponse reads one response envelope from r. The header is read first
// and then exactly the body length it declares.
func ReadResponse(r io.Reader) (Status, []byte, error) {
	header := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("failed to read response header: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[responseLenOffset:ResponseHeaderSize]))
	frame := make([]byte, ResponseHeaderSize+length)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[ResponseHeaderSize:]); err != nil {
		return 0, nil, fmt.Errorf("failed to read response body (%d bytes): %w", length, err)
	}

	return DecodeResponse(frame)
}
