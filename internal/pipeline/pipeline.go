// Package pipeline translates one HTTP request into at most one upstream
// function invocation and a JSON response. The pipeline owns no state; it
// borrows Configuration, the selector, and the pool.
package pipeline

import (
	"context"
	"strconv"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
	"github.com/holochain/hc-http-gw/internal/hcid"
	"github.com/holochain/hc-http-gw/internal/transcode"
)

// MaxIdentifierLength bounds app-id, module, and function names.
const MaxIdentifierLength = 100

// Caller is the subset of AppConnPool the pipeline drives calls through.
type Caller interface {
	Call(ctx context.Context, appID string, f func(conductor.AppClient) ([]byte, error)) ([]byte, error)
}

// Resolver is the subset of AppSelector the pipeline uses for app resolution.
type Resolver interface {
	Resolve(ctx context.Context, networkID [39]byte, appID string) (*conductor.AppInfo, error)
}

// Pipeline drives a single HTTP request through validation, authorization,
// transcoding, and the call to the upstream Conductor.
type Pipeline struct {
	cfg      *config.Configuration
	resolver Resolver
	pool     Caller
}

// New builds a Pipeline over the given shared components.
func New(cfg *config.Configuration, resolver Resolver, pool Caller) *Pipeline {
	return &Pipeline{cfg: cfg, resolver: resolver, pool: pool}
}

// Request is the parsed, not-yet-validated path and query of an incoming
// zome-call HTTP request.
type Request struct {
	NetworkID  string
	AppID      string
	Module     string
	Fn         string
	Payload    string // raw (still base64-encoded) query value
	HasPayload bool   // false when the payload query parameter is absent
}

// Execute validates, authorizes, transcodes, and drives the call to the
// upstream Conductor, returning the JSON body to send back with status 200,
// or a *gwerrors.Error otherwise.
func (p *Pipeline) Execute(ctx context.Context, req Request) (string, error) {
	networkID, appID, module, fn, err := p.validate(req)
	if err != nil {
		return "", err
	}

	if len(req.Payload) > p.cfg.PayloadLimitBytes {
		return "", gwerrors.RequestMalformed(payloadOversizeMessage(p.cfg.PayloadLimitBytes))
	}

	descriptor, err := p.resolver.Resolve(ctx, networkID, appID)
	if err != nil {
		return "", err
	}

	if !p.cfg.IsFunctionAllowed(appID, module, fn) {
		return "", gwerrors.UnauthorizedFunction(appID, module, fn)
	}

	cellID, ok := descriptor.CellForNetwork(networkID)
	if !ok {
		return "", gwerrors.NotInstalled(appID)
	}

	var wirePayload []byte
	if req.HasPayload {
		wirePayload, err = transcode.InboundToWire(req.Payload)
		if err != nil {
			return "", err
		}
	} else {
		wirePayload = transcode.UnitWire
	}

	respBytes, err := p.pool.Call(ctx, appID, func(c conductor.AppClient) ([]byte, error) {
		return c.CallFunction(ctx, cellID, module, fn, wirePayload)
	})
	if err != nil {
		if conductor.IsTransportError(err) {
			return "", gwerrors.UpstreamUnavailable()
		}
		var protoErr *conductor.ProtocolError
		if asProtocolError(err, &protoErr) {
			return "", gwerrors.UpstreamProtocol(protoErr.Message)
		}
		return "", err
	}

	return transcode.OutboundToJSON(respBytes)
}

func asProtocolError(err error, target **conductor.ProtocolError) bool {
	pe, ok := err.(*conductor.ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func (p *Pipeline) validate(req Request) (networkID [39]byte, appID, module, fn string, err error) {
	parsedID, parseErr := hcid.Parse(req.NetworkID)
	if parseErr != nil {
		return networkID, "", "", "", gwerrors.RequestMalformed("Invalid DNA hash")
	}

	for _, value := range []string{req.AppID, req.Module, req.Fn} {
		if len(value) > MaxIdentifierLength {
			return networkID, "", "", "", gwerrors.RequestMalformed(identifierOverflowMessage(value))
		}
	}

	return [39]byte(parsedID), req.AppID, req.Module, req.Fn, nil
}

func identifierOverflowMessage(value string) string {
	return "Identifier " + value + " longer than 100 characters"
}

func payloadOversizeMessage(limit int) string {
	return "Payload exceeds " + strconv.Itoa(limit) + " bytes"
}
