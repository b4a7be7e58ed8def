// Package conductor declares the abstract capability set the gateway's core
// depends on: an administrative channel (AdminClient) and a per-application
// channel (AppClient). The Conductor's own wire protocol is an external
// collaborator; this package only fixes the shape the core needs, so the
// core can be exercised against a test double without ever talking to a
// real Conductor.
package conductor

import (
	"context"
	"errors"
	"time"
)

// OriginTag is the fixed ASCII token attached to application WebSocket handshakes.
const OriginTag = "hc-http-gw"

// CellID identifies a cell: a module instance for a given network-id and agent key.
type CellID struct {
	NetworkID   [39]byte
	AgentPubKey []byte
}

// AppStatusFilter narrows a ListApps call.
type AppStatusFilter string

// StatusRunning restricts ListApps to running applications.
const StatusRunning AppStatusFilter = "running"

// CellInfo describes one provisioned cell under a role in an installed app.
type CellInfo struct {
	Role   string
	CellID CellID
}

// AppInfo is the application descriptor cached by the selector.
type AppInfo struct {
	InstalledAppID string
	CellInfo       map[string][]CellInfo
	Status         string
	AgentPubKey    []byte
}

// ProvisionedCells returns every cell across every role, flattened.
func (a AppInfo) ProvisionedCells() []CellID {
	var out []CellID
	for _, cells := range a.CellInfo {
		for _, c := range cells {
			out = append(out, c.CellID)
		}
	}
	return out
}

// CellForNetwork returns the cell whose NetworkID matches networkID, if any.
func (a AppInfo) CellForNetwork(networkID [39]byte) (CellID, bool) {
	for _, cells := range a.CellInfo {
		for _, c := range cells {
			if c.CellID.NetworkID == networkID {
				return c.CellID, true
			}
		}
	}
	return CellID{}, false
}

// AppInterface describes a listener the Conductor exposes for app connections.
type AppInterface struct {
	Port           uint16
	AllowedOrigins []string
	InstalledAppID *string // nil means "any installed app may connect"
}

// AllowsOrigin reports whether origin is permitted on this interface.
func (i AppInterface) AllowsOrigin(origin string) bool {
	if len(i.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range i.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// MatchesApp reports whether this interface accepts connections for appID.
func (i AppInterface) MatchesApp(appID string) bool {
	return i.InstalledAppID == nil || *i.InstalledAppID == appID
}

// AppAuthToken is a single-use token issued by the admin interface to
// authenticate one application WebSocket connection attempt.
type AppAuthToken struct {
	Token []byte
}

// GrantedFunctions mirrors config.AllowedFns at the wire-protocol boundary.
type GrantedFunctions struct {
	All bool
	Fns []ModuleFn
}

// ModuleFn is a single (module, function) pair granted signing authority.
type ModuleFn struct {
	Module string
	Fn     string
}

// AuthorizeSigningCredentialsRequest requests signing credentials for a single cell.
type AuthorizeSigningCredentialsRequest struct {
	CellID    CellID
	Functions GrantedFunctions
}

// SigningCredentials are the credentials returned by AuthorizeSigningCredentials
// for one cell.
type SigningCredentials struct {
	CellID    CellID
	KeyPair   []byte
	Signature []byte
}

// AttachAppInterfaceRequest asks the admin interface to provision a new app listener.
type AttachAppInterfaceRequest struct {
	AllowedOrigins []string
}

// ErrTransport marks an error as a transport-layer (WebSocket) failure, as
// opposed to a well-formed protocol-level error from the Conductor. Only
// transport errors trigger AdminConn/AppConnPool reconnection.
var ErrTransport = errors.New("conductor transport error")

// TransportError wraps a transport-layer failure so errors.Is(err, ErrTransport) succeeds.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return ErrTransport.Error()
	}
	return ErrTransport.Error() + ": " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsTransportError reports whether err is a transport-layer failure.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

// ProtocolError is a well-formed error returned by the Conductor itself,
// as opposed to a transport failure. It never triggers reconnection.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// ErrProtocol builds a ProtocolError carrying the Conductor's own message.
func ErrProtocol(message string) error {
	return &ProtocolError{Message: message}
}

// AdminClient is the capability set exposed over the administrative WebSocket.
type AdminClient interface {
	ListAppInterfaces(ctx context.Context) ([]AppInterface, error)
	IssueAppAuthToken(ctx context.Context, appID string) (AppAuthToken, error)
	AuthorizeSigningCredentials(ctx context.Context, req AuthorizeSigningCredentialsRequest) (SigningCredentials, error)
	AttachAppInterface(ctx context.Context, req AttachAppInterfaceRequest) (AppInterface, error)
	ListApps(ctx context.Context, status AppStatusFilter) ([]AppInfo, error)
	Close() error
}

// AppClient is the capability set exposed over a per-application WebSocket.
type AppClient interface {
	CallFunction(ctx context.Context, cellID CellID, module, fn string, payload []byte) ([]byte, error)
	AppInfo() AppInfo
	Close() error
}

// Dialer opens new AdminClient/AppClient connections. It is the seam the
// core uses instead of depending on a concrete transport.
type Dialer interface {
	DialAdmin(ctx context.Context, addr string) (AdminClient, error)
	DialApp(ctx context.Context, addr string, port uint16, token AppAuthToken, origin string, timeout time.Duration) (AppClient, error)
}
