// Package plugin discovers, verifies and binds external decoder and
// estimator implementations. Plugins are separate executables described by
// a plugin.json manifest; bound instances talk to the host over a framed
// stdio protocol, so nothing but values ever crosses the boundary.
package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Capability names a contract a plugin can implement.
type Capability string

const (
	// CapabilityDecoder marks a plugin that produces motion fields.
	CapabilityDecoder Capability = "decoder"
	// CapabilityEstimator marks a plugin that estimates relative pose.
	CapabilityEstimator Capability = "estimator"
)

// Host contract version. A plugin whose major version differs is rejected;
// minor differences are backward compatible and accepted.
const (
	HostMajor = 1
	HostMinor = 1
)

// contractSignature pins the plugin wire contract. Any change to the framed
// stdio protocol or the motion-field exchange layout must change this
// string, which changes the ABI hash and rejects stale plugins.
const contractSignature = "egomotion-plugin/1: frames=u32len+tag; field=u32 w,h,n + f32 x,y,dx,dy; ops=describe,next,estimate,close"

// ABIHash returns the host's expected contract hash.
func ABIHash() string {
	sum := sha256.Sum256([]byte(contractSignature))
	return hex.EncodeToString(sum[:])
}

// Manifest is the plugin.json layout sitting next to a plugin executable.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"` // "major.minor"
	Description  string          `json:"description,omitempty"`
	Executable   string          `json:"executable"`
	ABIHash      string          `json:"abiHash"`
	Capabilities []Capability    `json:"capabilities"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Descriptor is the verified identity of a plugin, derived from its
// manifest during registration. It is only used while binding; it plays no
// part in steady-state frame processing.
type Descriptor struct {
	Name         string
	Major        int
	Minor        int
	ABIHash      string
	Capabilities []Capability
}

// HasCapability reports whether the descriptor advertises c.
func (d Descriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// parseVersion splits a "major.minor" version string.
func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("version %q is not major.minor", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", v, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", v, err)
	}
	return major, minor, nil
}

// LoadError reports a plugin that could not be registered or bound: version
// or ABI mismatch, unreadable manifest, or a missing entry point. The
// failure is isolated to the offending plugin.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s", e.Path, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }
