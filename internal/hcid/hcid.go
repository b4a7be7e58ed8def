// Package hcid parses and validates the canonical text form of a Holochain
// network identifier (a "DNA hash"): a 39-byte value consisting of a 3-byte
// type prefix, a 32-byte core hash, and a 4-byte DHT location checksum,
// rendered as "u" followed by unpadded URL-safe base64.
//
// This is not a concern covered by any example repo's dependency set; it is
// implemented directly against the upstream holo_hash encoding recovered
// from original_source, using only encoding/base64.
package hcid

import (
	"encoding/base64"
	"errors"
)

// Size is the total byte length of a canonical network-id.
const Size = 39

// dnaHashPrefix is the 3-byte type prefix for a DNA hash ("hC0k" once base64 encoded).
var dnaHashPrefix = [3]byte{0x84, 0x2d, 0x24}

// ErrInvalid is returned for any malformed network-id.
var ErrInvalid = errors.New("Invalid DNA hash")

// ID is a parsed, validated 39-byte network-id.
type ID [Size]byte

// Core returns the 32-byte hash payload, stripped of prefix and location.
func (id ID) Core() []byte {
	return id[3:35]
}

// String renders the canonical "u<base64url-nopad>" text form.
func (id ID) String() string {
	return "u" + base64.RawURLEncoding.EncodeToString(id[:])
}

// Parse validates s as a canonical network-id and returns the decoded bytes.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) == 0 || s[0] != 'u' {
		return id, ErrInvalid
	}
	decoded, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return id, ErrInvalid
	}
	if len(decoded) != Size {
		return id, ErrInvalid
	}
	if decoded[0] != dnaHashPrefix[0] || decoded[1] != dnaHashPrefix[1] || decoded[2] != dnaHashPrefix[2] {
		return id, ErrInvalid
	}
	copy(id[:], decoded)
	return id, nil
}

// Location returns the trailing 4-byte DHT location field as received. Its
// checksum algorithm is an upstream implementation detail that this gateway
// does not need to recompute: the gateway only forwards network-ids to the
// Conductor, which is the sole party that must agree they are well formed
// beyond prefix and length.
func (id ID) Location() []byte {
	return id[35:39]
}
