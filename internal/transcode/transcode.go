// Package transcode converts between the HTTP-facing base64-JSON payload
// representation and the Conductor's opaque wire-byte representation,
// mirroring the upstream's base64_json_to_hsb / hsb_to_json functions.
package transcode

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/holochain/hc-http-gw/internal/gwerrors"
)

// InboundToWire base64url-decodes an HTTP query payload, validates it as
// JSON, and returns the decoded JSON bytes unchanged as the wire bytes
// (this gateway's Conductor wire container is itself JSON — see
// internal/conductor/wire).
func InboundToWire(base64Payload string) ([]byte, error) {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(base64Payload)
	if err != nil {
		// Accept padded input too; callers may or may not strip padding.
		decoded, err = base64.URLEncoding.DecodeString(base64Payload)
		if err != nil {
			return nil, gwerrors.RequestMalformed("Invalid base64 encoding")
		}
	}
	if !gjson.ValidBytes(decoded) {
		return nil, gwerrors.RequestMalformed("Invalid JSON value")
	}
	return decoded, nil
}

// UnitWire is the wire-encoding of the JSON "unit" value used when no
// payload query parameter was supplied.
var UnitWire = []byte("null")

// OutboundToJSON decodes wire bytes (canonical JSON) and re-serializes them
// into the JSON string returned to the HTTP caller.
func OutboundToJSON(wireBytes []byte) (string, error) {
	var v any
	if err := json.Unmarshal(wireBytes, &v); err != nil {
		return "", gwerrors.Internal(err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", gwerrors.Internal(err)
	}
	return string(out), nil
}
