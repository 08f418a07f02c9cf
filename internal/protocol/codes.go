package protocol

import "fmt"

// Code identifies the operation carried by a request envelope
type Code byte

// Message codes understood by the device
const (
	CodeLogin        Code = 2
	CodeLogout       Code = 3
	CodePrintReceipt Code = 4
	CodePrintReturn  Code = 6
	CodeSyncTime     Code = 10
)

// ResponseCodes is the set of codes for which the device sends a response.
// Requests with any other code are fire-and-forget.
var ResponseCodes = map[Code]bool{
	CodeLogin:        true,
	CodePrintReceipt: true,
	CodePrintReturn:  true,
}

// ExpectsResponse reports whether the device answers requests with this code
func (c Code) ExpectsResponse() bool {
	return ResponseCodes[c]
}

// String returns a human-readable code name
func (c Code) String() string {
	switch c {
	case CodeLogin:
		return "login"
	case CodeLogout:
		return "logout"
	case CodePrintReceipt:
		return "print_receipt"
	case CodePrintReturn:
		return "print_return"
	case CodeSyncTime:
		return "sync_time"
	default:
		return fmt.Sprintf("code(%d)", byte(c))
	}
}
