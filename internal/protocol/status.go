package protocol

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Status is the 2-byte status code of a response envelope
type Status uint16

// StatusOK is the only status the device uses for success
const StatusOK Status = 200

// UnknownErrorMessage is returned for status codes missing from the table
const UnknownErrorMessage = "Unknown Error"

// OK reports whether the status signals success
func (s Status) OK() bool {
	return s == StatusOK
}

//go:embed errorcodes.yaml
var defaultErrorCodes []byte

// ErrorTable maps device status codes to human-readable messages
type ErrorTable struct {
	messages map[Status]string
}

type errorTableFile struct {
	Codes map[int]string `yaml:"codes"`
}

var (
	defaultTable     *ErrorTable
	defaultTableOnce sync.Once
)

// DefaultErrorTable returns the table shipped with the package.
// It is parsed once and shared; callers must not modify it.
func DefaultErrorTable() *ErrorTable {
	defaultTableOnce.Do(func() {
		table, err := ParseErrorTable(defaultErrorCodes)
		if err != nil {
			// The embedded file is part of the build
			panic(fmt.Sprintf("invalid embedded error table: %v", err))
		}
		defaultTable = table
	})
	return defaultTable
}

// ParseErrorTable parses a YAML document with a top-level "codes" mapping
func ParseErrorTable(data []byte) (*ErrorTable, error) {
	var file errorTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse error table: %w", err)
	}
	return NewErrorTable(file.Codes), nil
}

// NewErrorTable builds a table from a plain code->message map
func NewErrorTable(codes map[int]string) *ErrorTable {
	messages := make(map[Status]string, len(codes))
	for code, msg := range codes {
		messages[Status(code)] = msg
	}
	return &ErrorTable{messages: messages}
}

// WithOverrides returns a copy of the table with the given entries replaced or added
func (t *ErrorTable) WithOverrides(overrides map[int]string) *ErrorTable {
	merged := make(map[Status]string, len(t.messages)+len(overrides))
	for code, msg := range t.messages {
		merged[code] = msg
	}
	for code, msg := range overrides {
		merged[Status(code)] = msg
	}
	return &ErrorTable{messages: merged}
}

// Lookup returns the message for a status, or UnknownErrorMessage
func (t *ErrorTable) Lookup(status Status) string {
	if t != nil {
		if msg, ok := t.messages[status]; ok {
			return msg
		}
	}
	return UnknownErrorMessage
}

// Describe renders "<code>: <message>" the way the UI layer shows device errors
func (t *ErrorTable) Describe(status Status) string {
	return fmt.Sprintf("%d: %s", status, t.Lookup(status))
}

// Codes returns all known status codes in ascending order
func (t *ErrorTable) Codes() []Status {
	codes := make([]Status, 0, len(t.messages))
	for code := range t.messages {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Len returns the number of entries in the table
func (t *ErrorTable) Len() int {
	return len(t.messages)
}
