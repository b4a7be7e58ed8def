// Package config parses and validates the gateway's static configuration
// and answers allow-list queries in O(1).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPayloadLimitBytes is used when the payload limit is not set.
	DefaultPayloadLimitBytes = 10240
	// DefaultMaxAppConnections is used when the connection pool bound is not set.
	DefaultMaxAppConnections = 50
	// DefaultCallTimeout is used when the call timeout is not set.
	DefaultCallTimeout = 10 * time.Second

	allowAllMarker = "*"
)

// ErrorKind classifies a configuration parse failure.
type ErrorKind string

const (
	// KindIntParse means a numeric field failed to parse.
	KindIntParse ErrorKind = "int_parse"
	// KindMalformed covers every other validation failure, with Reason set.
	KindMalformed ErrorKind = "malformed"
)

// ConfigError reports why Parse failed.
type ConfigError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind == KindIntParse {
		return fmt.Sprintf("failed to parse integer configuration value: %s", e.Reason)
	}
	return e.Reason
}

// ZomeFn identifies a single allowed (module, function) pair.
type ZomeFn struct {
	Module string
	Fn     string
}

// AllowedFns is either "all functions" or an explicit set of (module, fn) pairs.
type AllowedFns struct {
	All bool
	Set map[ZomeFn]struct{}
}

func (a AllowedFns) allows(module, fn string) bool {
	if a.All {
		return true
	}
	_, ok := a.Set[ZomeFn{Module: module, Fn: fn}]
	return ok
}

// Configuration is the gateway's immutable, process-lifetime configuration.
type Configuration struct {
	AdminSocketAddr   string
	PayloadLimitBytes int
	MaxAppConnections int
	CallTimeout       time.Duration
	AllowedApps       map[string]struct{}
	AllowedFns        map[string]AllowedFns
}

// Parse builds a Configuration from string-form inputs. Empty numeric
// strings fall back to the documented defaults.
func Parse(
	adminAddr string,
	payloadLimitStr string,
	allowedAppsStr string,
	allowedFnsRaw map[string]string,
	maxConnsStr string,
	timeoutMSStr string,
) (*Configuration, error) {
	payloadLimit := DefaultPayloadLimitBytes
	if strings.TrimSpace(payloadLimitStr) != "" {
		v, err := strconv.Atoi(strings.TrimSpace(payloadLimitStr))
		if err != nil || v <= 0 {
			return nil, &ConfigError{Kind: KindIntParse, Reason: "payload limit bytes: " + payloadLimitStr}
		}
		payloadLimit = v
	}

	maxConns := DefaultMaxAppConnections
	if strings.TrimSpace(maxConnsStr) != "" {
		v, err := strconv.Atoi(strings.TrimSpace(maxConnsStr))
		if err != nil || v <= 0 {
			return nil, &ConfigError{Kind: KindIntParse, Reason: "max app connections: " + maxConnsStr}
		}
		maxConns = v
	}

	callTimeout := DefaultCallTimeout
	if strings.TrimSpace(timeoutMSStr) != "" {
		v, err := strconv.Atoi(strings.TrimSpace(timeoutMSStr))
		if err != nil || v <= 0 {
			return nil, &ConfigError{Kind: KindIntParse, Reason: "zome call timeout ms: " + timeoutMSStr}
		}
		callTimeout = time.Duration(v) * time.Millisecond
	}

	allowedApps := parseAllowedApps(allowedAppsStr)

	allowedFns := make(map[string]AllowedFns, len(allowedFnsRaw))
	for appID, raw := range allowedFnsRaw {
		fns, err := parseAllowedFns(raw)
		if err != nil {
			return nil, err
		}
		allowedFns[appID] = fns
	}

	for appID := range allowedApps {
		if _, ok := allowedFns[appID]; !ok {
			return nil, &ConfigError{Kind: KindMalformed, Reason: fmt.Sprintf("allowed app %q has no allowed_fns entry", appID)}
		}
	}

	if strings.TrimSpace(adminAddr) == "" {
		return nil, &ConfigError{Kind: KindMalformed, Reason: "admin socket address must not be empty"}
	}

	return &Configuration{
		AdminSocketAddr:   adminAddr,
		PayloadLimitBytes: payloadLimit,
		MaxAppConnections: maxConns,
		CallTimeout:       callTimeout,
		AllowedApps:       allowedApps,
		AllowedFns:        allowedFns,
	}, nil
}

func parseAllowedApps(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func parseAllowedFns(s string) (AllowedFns, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == allowAllMarker {
		return AllowedFns{All: true}, nil
	}

	set := make(map[ZomeFn]struct{})
	for _, pair := range strings.Split(trimmed, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "/", 2)
		if len(parts) != 2 {
			return AllowedFns{}, &ConfigError{Kind: KindMalformed, Reason: fmt.Sprintf("malformed module/function pair: %q", pair)}
		}
		module, fn := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if module == "" || fn == "" {
			return AllowedFns{}, &ConfigError{Kind: KindMalformed, Reason: fmt.Sprintf("module or function name empty in pair: %q", pair)}
		}
		set[ZomeFn{Module: module, Fn: fn}] = struct{}{}
	}
	return AllowedFns{Set: set}, nil
}

// IsFunctionAllowed reports whether appID may call module/fn. It is false
// for an unknown app, true when the app is granted "all", and a set
// membership check otherwise.
func (c *Configuration) IsFunctionAllowed(appID, module, fn string) bool {
	if c == nil {
		return false
	}
	fns, ok := c.AllowedFns[appID]
	if !ok {
		return false
	}
	return fns.allows(module, fn)
}

// IsAppAllowed reports whether appID is present in the allow-list.
func (c *Configuration) IsAppAllowed(appID string) bool {
	if c == nil {
		return false
	}
	_, ok := c.AllowedApps[appID]
	return ok
}
