package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		code    Code
		payload []byte
		wantErr bool
	}{
		{
			name:    "login payload",
			code:    CodeLogin,
			payload: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		},
		{
			name:    "empty payload",
			code:    CodeSyncTime,
			payload: []byte{},
		},
		{
			name:    "max size payload",
			code:    CodePrintReceipt,
			payload: make([]byte, MaxPayloadSize),
		},
		{
			name:    "payload too large",
			code:    CodePrintReceipt,
			payload: make([]byte, MaxPayloadSize+1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeRequest(tt.code, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if len(frame) != RequestHeaderSize+len(tt.payload) {
				t.Errorf("frame size = %d, want %d", len(frame), RequestHeaderSize+len(tt.payload))
			}

			// Check prefix
			if !bytes.Equal(frame[:8], DefaultHeaderPrefix()) {
				t.Errorf("prefix = % X, want % X", frame[:8], DefaultHeaderPrefix())
			}

			// Check code
			if Code(frame[8]) != tt.code {
				t.Errorf("code = %d, want %d", frame[8], tt.code)
			}

			// Check length field (big-endian)
			gotLen := binary.BigEndian.Uint16(frame[10:12])
			if int(gotLen) != len(tt.payload) {
				t.Errorf("length field = %d, want %d", gotLen, len(tt.payload))
			}

			if !bytes.Equal(frame[12:], tt.payload) {
				t.Error("payload bytes do not match")
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0xAA},
		bytes.Repeat([]byte{0x42}, 300),
		[]byte(`{"seq":7}`),
	}
	codes := []Code{CodeLogin, CodeLogout, CodePrintReceipt, CodePrintReturn, CodeSyncTime}

	for _, code := range codes {
		for _, payload := range payloads {
			frame, err := EncodeRequest(code, payload)
			if err != nil {
				t.Fatalf("EncodeRequest(%s) error = %v", code, err)
			}

			req, err := DecodeRequest(frame)
			if err != nil {
				t.Fatalf("DecodeRequest(%s) error = %v", code, err)
			}
			if req.Code != code {
				t.Errorf("code = %s, want %s", req.Code, code)
			}
			if !bytes.Equal(req.Payload, payload) {
				t.Errorf("%s: payload mismatch after round trip", code)
			}
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		body   []byte
	}{
		{"ok with body", StatusOK, []byte{0x10, 0x20, 0x30}},
		{"ok empty", StatusOK, nil},
		{"device error", 500, []byte{}},
		{"large body", StatusOK, bytes.Repeat([]byte{0x01}, 2048)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeResponse(tt.status, tt.body)
			if err != nil {
				t.Fatalf("EncodeResponse() error = %v", err)
			}

			// Status lives at bytes 5-6, body at 11
			if got := Status(binary.BigEndian.Uint16(frame[5:7])); got != tt.status {
				t.Errorf("raw status = %d, want %d", got, tt.status)
			}
			if got := int(binary.BigEndian.Uint16(frame[9:11])); got != len(tt.body) {
				t.Errorf("length field = %d, want %d", got, len(tt.body))
			}

			status, body, err := DecodeResponse(frame)
			if err != nil {
				t.Fatalf("DecodeResponse() error = %v", err)
			}
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if !bytes.Equal(body, tt.body) && !(len(body) == 0 && len(tt.body) == 0) {
				t.Errorf("body = % X, want % X", body, tt.body)
			}
		})
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	valid, _ := EncodeRequest(CodePrintReceipt, []byte{1, 2, 3})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", valid[:5]},
		{"bad magic", append([]byte{0x00}, valid[1:]...)},
		{"bad version", func() []byte {
			b := append([]byte(nil), valid...)
			b[7] = 0x04
			return b
		}()},
		{"length mismatch", valid[:len(valid)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.raw)
			if err == nil {
				t.Fatal("DecodeRequest() should fail")
			}
			if !IsDecodeFailure(err) {
				t.Errorf("error should be decode failure, got %v", err)
			}
		})
	}
}

func TestDecodeResponse_Invalid(t *testing.T) {
	if _, _, err := DecodeResponse([]byte{0, 0, 0, 0, 0, 0}); !IsDecodeFailure(err) {
		t.Errorf("short response: error = %v, want decode failure", err)
	}

	frame, _ := EncodeResponse(StatusOK, []byte{1, 2, 3, 4})
	if _, _, err := DecodeResponse(frame[:len(frame)-2]); !IsDecodeFailure(err) {
		t.Errorf("truncated body: error = %v, want decode failure", err)
	}
}

func TestReadResponse_Reassembly(t *testing.T) {
	body := bytes.Repeat([]byte{0x5A}, 700)
	frame, err := EncodeResponse(StatusOK, body)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	// One byte per Read call simulates a heavily fragmented TCP stream
	r := iotest.OneByteReader(bytes.NewReader(frame))
	status, got, err := ReadResponse(r)
	if err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	if status != StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body length = %d, want %d", len(got), len(body))
	}
}

func TestReadResponse_LeavesTrailingFrame(t *testing.T) {
	first, _ := EncodeResponse(StatusOK, []byte("first"))
	second, _ := EncodeResponse(404, []byte("second"))
	stream := bytes.NewReader(append(first, second...))

	_, body, err := ReadResponse(stream)
	if err != nil || string(body) != "first" {
		t.Fatalf("first frame = %q, %v", body, err)
	}

	status, body, err := ReadResponse(stream)
	if err != nil || string(body) != "second" || status != 404 {
		t.Fatalf("second frame = %d %q, %v", status, body, err)
	}
}

func TestReadResponse_Truncated(t *testing.T) {
	frame, _ := EncodeResponse(StatusOK, []byte{1, 2, 3, 4, 5})

	_, _, err := ReadResponse(bytes.NewReader(frame[:len(frame)-2]))
	if err == nil {
		t.Fatal("ReadResponse() should fail on truncated frame")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadRequest_Reassembly(t *testing.T) {
	payload := []byte(`{"password":"secret","cashier":3,"pin":"1234"}`)
	frame, _ := EncodeRequest(CodeLogin, payload)

	req, err := ReadRequest(iotest.HalfReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if req.Code != CodeLogin {
		t.Errorf("code = %s, want login", req.Code)
	}
	if !bytes.Equal(req.Payload, payload) {
		t.Error("payload mismatch")
	}
}

func TestCode_ExpectsResponse(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeLogin, true},
		{CodeLogout, false},
		{CodePrintReceipt, true},
		{CodePrintReturn, true},
		{CodeSyncTime, false},
		{Code(99), false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.ExpectsResponse(); got != tt.want {
				t.Errorf("ExpectsResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}
