// Package base32c implements RFC 4648 base32 encoding, lowercased and with
// padding stripped, for use in the token wire format (spec.md §6). The
// standard library's encoding/base32 already implements the RFC; this
// package only adapts its casing/padding to the wire format and exposes a
// narrow, purpose-built API.
package base32c

import (
	"encoding/base32"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Encode returns the lowercase, unpadded RFC 4648 base32 encoding of data.
func Encode(data []byte) string {
	return strings.ToLower(encoding.EncodeToString(data))
}

// Decode reverses Encode. Input is case-insensitive.
func Decode(s string) ([]byte, error) {
	return encoding.DecodeString(strings.ToUpper(s))
}
