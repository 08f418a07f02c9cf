// Package keys seals and opens HDM payloads.
//
// The device uses Triple DES (EDE3) in ECB mode with PKCS#7 padding. Two keys
// are involved in every session:
//
//   - The login key, the first 24 bytes of SHA-256 over the device password.
//     It protects the login request (code 2) and its response.
//   - The connection key, issued by the device in the login response. It
//     protects every later request and response of the session.
//
// Every failure to open a payload (bad block size, bad padding, plaintext that
// is not JSON) is returned as a protocol DecodeFailure.
package keys

import (
	"bytes"
	"crypto/des"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/muurk/hdmctl/internal/protocol"
)

// KeySize is the 3DES key length in bytes
const KeySize = 24

// ErrNoConnectionKey is returned when a session payload is sealed before a
// successful login has produced a connection key.
var ErrNoConnectionKey = errors.New("keys: no connection key, login first")

// LoginKey derives the 3DES key protecting login messages
func LoginKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:KeySize]
}

// SessionKey derives the 3DES key from a connection key issued by the device.
// The device issues base64 of 24 random bytes; any other key string is hashed.
func SessionKey(connectionKey string) ([]byte, error) {
	if connectionKey == "" {
		return nil, ErrNoConnectionKey
	}
	if raw, err := base64.StdEncoding.DecodeString(connectionKey); err == nil && len(raw) == KeySize {
		return raw, nil
	}
	sum := sha256.Sum256([]byte(connectionKey))
	return sum[:KeySize], nil
}

// SealLogin encrypts a login payload with the password-derived key
func SealLogin(password string, payload []byte) ([]byte, error) {
	return seal(LoginKey(password), payload)
}

// SealSession encrypts a payload with the session key. It refuses to run
// without a connection key so an unkeyed payload is never produced.
func SealSession(connectionKey string, payload []byte) ([]byte, error) {
	key, err := SessionKey(connectionKey)
	if err != nil {
		return nil, err
	}
	return seal(key, payload)
}

// OpenLogin decrypts a login response with the password-derived key
func OpenLogin(password string, ciphertext []byte) ([]byte, error) {
	return open(LoginKey(password), ciphertext)
}

// OpenSession decrypts a response with the session key
func OpenSession(connectionKey string, ciphertext []byte) ([]byte, error) {
	key, err := SessionKey(connectionKey)
	if err != nil {
		return nil, protocol.NewDecodeError("cannot open response without connection key", err)
	}
	return open(key, ciphertext)
}

// LoginResponse is the plaintext of a successful login response
type LoginResponse struct {
	Key string `json:"key"`
}

// ParseLoginResponse opens a login response and extracts the connection key
func ParseLoginResponse(password string, ciphertext []byte) (string, error) {
	plain, err := OpenLogin(password, ciphertext)
	if err != nil {
		return "", err
	}

	var resp LoginResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		return "", protocol.NewDecodeError("login response is not valid JSON", err)
	}
	if resp.Key == "" {
		return "", protocol.NewDecodeError("login response carries no connection key", nil)
	}
	return resp.Key, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	ecbCrypt(block.Encrypt, block.BlockSize(), out, padded)
	return out, nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, protocol.NewDecodeError("failed to create cipher", err)
	}

	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, protocol.NewDecodeError(fmt.Sprintf("ciphertext length %d is not a multiple of %d", len(ciphertext), bs), nil)
	}

	plain := make([]byte, len(ciphertext))
	ecbCrypt(block.Decrypt, bs, plain, ciphertext)

	plain, err = unpad(plain, bs)
	if err != nil {
		return nil, protocol.NewDecodeError("bad padding, wrong key?", err)
	}
	if !json.Valid(plain) {
		return nil, protocol.NewDecodeError("decrypted payload is not valid JSON", nil)
	}
	return plain, nil
}

// ecbCrypt applies fn block by block. The standard library has no ECB mode.
func ecbCrypt(fn func(dst, src []byte), bs int, dst, src []byte) {
	for i := 0; i < len(src); i += bs {
		fn(dst[i:i+bs], src[i:i+bs])
	}
}

func pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, bs int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("inconsistent padding bytes")
		}
	}
	return data[:len(data)-n], nil
}
