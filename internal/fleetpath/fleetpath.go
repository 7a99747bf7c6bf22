// Package fleetpath derives the tenant and hierarchical path identity that
// routes every request to exactly one agent, mirroring how the AgentOven
// control plane's router resolves one kitchen/agent pair per call before
// doing anything else.
package fleetpath

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/fleetgrid/control-plane/internal/apperr"
)

// segmentPattern is the character class and length bound a path segment
// must satisfy: letters, digits, space, underscore, hyphen, 1-32 chars.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9 _\-]{1,32}$`)

// TenantKey identifies the tenant a request belongs to. Never empty; callers
// fall back to DefaultTenant when no tenant can be derived.
type TenantKey string

// DefaultTenant is used when tenant derivation yields nothing.
const DefaultTenant TenantKey = "demo"

// Path is an ordered list of percent-decoded, validated segments. The zero
// value (nil/empty slice) is the root path.
type Path struct {
	segments []string
}

// Root is the empty path.
func Root() Path { return Path{} }

// ValidateSegment reports whether s satisfies the segment character class
// and length bound, after trimming whitespace per spec.
func ValidateSegment(s string) error {
	trimmed := strings.TrimSpace(s)
	if !segmentPattern.MatchString(trimmed) {
		return apperr.Validation("invalid segment %q: must match [A-Za-z0-9 _-]{1,32}", s)
	}
	return nil
}

// NewPath builds a Path from already-decoded segments, validating each.
func NewPath(segments ...string) (Path, error) {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		if err := ValidateSegment(trimmed); err != nil {
			return Path{}, err
		}
		out = append(out, trimmed)
	}
	return Path{segments: out}, nil
}

// ParsePath parses a canonical or loosely-slashed string form such as "/a/b",
// "a/b", or "/a/b/" into a validated Path. Segments are percent-decoded
// before validation, since storage keys and OwnerKeys always use the decoded
// form (URL encoding is only for constructing outbound URLs).
func ParsePath(raw string) (Path, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return Root(), nil
	}
	parts := strings.Split(raw, "/")
	decoded := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		d, err := url.PathUnescape(p)
		if err != nil {
			return Path{}, apperr.Validation("invalid percent-encoding in segment %q", p)
		}
		decoded = append(decoded, d)
	}
	return NewPath(decoded...)
}

// Segments returns a copy of the path's ordered segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Last returns the final segment, or "" for the root path.
func (p Path) Last() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with its last segment removed, and whether p had
// a parent at all (false for the root path).
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return Path{}, false
	}
	return Path{segments: append([]string{}, p.segments[:len(p.segments)-1]...)}, true
}

// Child returns the path extended by one validated segment.
func (p Path) Child(segment string) (Path, error) {
	if err := ValidateSegment(strings.TrimSpace(segment)); err != nil {
		return Path{}, err
	}
	out := append(append([]string{}, p.segments...), strings.TrimSpace(segment))
	return Path{segments: out}, nil
}

// String renders the canonical form: "/" for root, "/a/b/c" otherwise.
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// Equal reports structural equality between two paths.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// OwnerKey is the canonical (tenant, path) identity the registry keys
// agents by, and the string every RPC and storage key derives from.
type OwnerKey struct {
	Tenant TenantKey
	Path   Path
}

// NewOwnerKey constructs an OwnerKey, defaulting empty tenant to DefaultTenant.
func NewOwnerKey(tenant TenantKey, path Path) OwnerKey {
	if strings.TrimSpace(string(tenant)) == "" {
		tenant = DefaultTenant
	}
	return OwnerKey{Tenant: tenant, Path: path}
}

// String renders the canonical "<tenant>:<canonical-path>" form used as the
// registry and routing key (spec.md §4.4's OwnerKey string).
func (k OwnerKey) String() string {
	return fmt.Sprintf("%s:%s", k.Tenant, k.Path.String())
}

// DeriveTenant implements the deterministic, ordered tenant-derivation rule:
//  1. if host has a third-or-deeper label and its leftmost label isn't "www",
//     that label is the tenant;
//  2. else if the URL path begins with "/tenant/<id>/...", <id> is the
//     tenant and the remaining segments form urlPath;
//  3. else the first path segment is the tenant;
//  4. else DefaultTenant.
//
// Returns the tenant and the remaining raw path to parse for the fleet path.
func DeriveTenant(host, urlPath string) (TenantKey, string) {
	if host != "" {
		hostOnly := host
		if i := strings.IndexByte(hostOnly, ':'); i >= 0 {
			hostOnly = hostOnly[:i]
		}
		labels := strings.Split(hostOnly, ".")
		if len(labels) >= 3 && net.ParseIP(hostOnly) == nil && !strings.EqualFold(labels[0], "www") {
			return TenantKey(labels[0]), urlPath
		}
	}

	trimmed := strings.TrimPrefix(urlPath, "/")
	segs := strings.Split(trimmed, "/")
	if len(segs) >= 2 && segs[0] == "tenant" && segs[1] != "" {
		rest := "/" + strings.Join(segs[2:], "/")
		return TenantKey(segs[1]), rest
	}

	if len(segs) >= 1 && segs[0] != "" {
		rest := "/" + strings.Join(segs[1:], "/")
		return TenantKey(segs[0]), rest
	}

	return DefaultTenant, urlPath
}
