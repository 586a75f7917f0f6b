// Package valueobjects holds validated, immutable wrappers around the
// string identifiers the spec's data model constrains: project names,
// hostnames, and secret key paths. Constructors reject malformed input so
// invalid values never propagate past the boundary that created them.
package valueobjects

import (
	"regexp"
	"strings"

	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
)

// ProjectName is a validated lowercase project slug (spec.md §3 Project.name).
type ProjectName struct {
	value string
}

var projectNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// NewProjectName validates and wraps a project slug.
func NewProjectName(name string) (ProjectName, error) {
	if name == "" {
		return ProjectName{}, domainerr.WrapValidation("project name cannot be empty", nil)
	}
	if !projectNamePattern.MatchString(name) {
		return ProjectName{}, domainerr.WrapValidation(
			"project name must be lowercase alphanumeric with hyphens, cannot start or end with hyphen", nil)
	}
	if len(name) > 63 {
		return ProjectName{}, domainerr.WrapValidation("project name cannot exceed 63 characters", nil)
	}
	return ProjectName{value: name}, nil
}

func (n ProjectName) String() string { return n.value }

func (n ProjectName) Equals(other ProjectName) bool { return n.value == other.value }

// Hostname is a validated DNS hostname, with Domain()/Subdomain() extraction
// used by the CNAME lifecycle (spec.md §4.J) to compute the apex domain and
// requested subdomain from a full hostname.
type Hostname struct {
	value string
}

var hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// NewHostname validates and wraps a hostname.
func NewHostname(hostname string) (Hostname, error) {
	if hostname == "" {
		return Hostname{}, domainerr.WrapValidation("hostname cannot be empty", nil)
	}
	lower := strings.ToLower(hostname)
	if !hostnamePattern.MatchString(lower) {
		return Hostname{}, domainerr.WrapValidation("hostname must be a valid domain name", nil)
	}
	return Hostname{value: lower}, nil
}

func (h Hostname) String() string { return h.value }

// Domain extracts the root/apex domain, e.g. "app.example.com" -> "example.com".
func (h Hostname) Domain() string {
	parts := strings.Split(h.value, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return h.value
}

// Subdomain extracts everything before the apex domain, e.g.
// "app.example.com" -> "app"; "example.com" -> "".
func (h Hostname) Subdomain() string {
	parts := strings.Split(h.value, ".")
	if len(parts) > 2 {
		return strings.Join(parts[:len(parts)-2], ".")
	}
	return ""
}

// KeyPath is a validated secret key path matching spec.md §3/§6's grammar:
// ^(meta|project|service)/[a-z0-9_-]+/[a-z0-9_-]+$
type KeyPath struct {
	value string
}

var keyPathPattern = regexp.MustCompile(constants.KeyPathPattern)

// NewKeyPath validates and wraps a secret key path.
func NewKeyPath(path string) (KeyPath, error) {
	if !keyPathPattern.MatchString(path) {
		return KeyPath{}, domainerr.WrapValidation("key_path does not match the required grammar", nil)
	}
	return KeyPath{value: path}, nil
}

func (k KeyPath) String() string { return k.value }

// Scope returns the leading segment: "meta", "project", or "service".
func (k KeyPath) Scope() string {
	return strings.SplitN(k.value, "/", 2)[0]
}
