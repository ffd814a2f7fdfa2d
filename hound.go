// Package hounddog is a service-discovery client library built on top of
// an etcd-style key-value store with leases and prefix watches.
//
// A process registers itself as a named node under a service namespace with
// a lease-bound lifetime (registration package), lists peers under that
// namespace (query package), and subscribes to membership changes (watch
// package). The store itself is an external dependency; this library only
// consumes the abstract contract in the store package.
package hounddog

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Node is a single registered endpoint within a service.
type Node struct {
	Name string
	URI  *url.URL
}

// String renders the node as "name@uri", handy for log lines.
func (n Node) String() string {
	if n.URI == nil {
		return n.Name
	}
	return n.Name + "@" + n.URI.String()
}

// Config carries the process-scoped settings the core reads at startup:
// the top-level namespace all services register under, and the default
// lease TTL used when a caller doesn't specify one. Neither is loaded from
// the environment or a config file by this package — the embedding
// application constructs and owns a Config.
type Config struct {
	// Namespace is the top-level key prefix, e.g. "myapp". Required.
	Namespace string
	// DefaultTTL is the lease TTL, in seconds, used when a caller does not
	// pass an explicit TTL to Register. Recommended range: 10-60.
	DefaultTTL int64
	// Endpoints are the addresses of the etcd cluster backing the store.
	Endpoints []string
	// DialTimeout bounds how long the store adapter waits to establish a
	// connection before treating it as a transient failure.
	DialTimeout time.Duration
}

// DefaultDialTimeout is used when a Config leaves DialTimeout unset.
const DefaultDialTimeout = 5 * time.Second

// EffectiveDialTimeout returns c.DialTimeout, or DefaultDialTimeout when the
// Config leaves it unset.
func (c Config) EffectiveDialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return DefaultDialTimeout
}

// Validate checks that the Config has the fields the core requires.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("hounddog: %w: namespace must not be empty", ErrInvalidConfig)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("hounddog: %w: at least one etcd endpoint is required", ErrInvalidConfig)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("hounddog: %w: default TTL must not be negative", ErrInvalidConfig)
	}
	return nil
}

// NodeKey builds the deterministic key "<namespace>/<service>/<name>" for a
// binding. service and name must not contain "/".
func (c Config) NodeKey(service, name string) string {
	return c.Namespace + "/" + service + "/" + name
}

// ServicePrefix builds the "<namespace>/<service>/" prefix used to range or
// watch all nodes of a service.
func (c Config) ServicePrefix(service string) string {
	return c.Namespace + "/" + service + "/"
}

// NamespacePrefix builds the "<namespace>/" prefix covering every service.
func (c Config) NamespacePrefix() string {
	return c.Namespace + "/"
}

// ValidateName reports whether name is a legal service or node name: non-empty
// and free of the "/" path separator.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("hounddog: %w: name must not be empty", ErrInvalidName)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("hounddog: %w: name %q must not contain '/'", ErrInvalidName, name)
	}
	return nil
}

// ParseNodeURI validates that raw is a well-formed absolute URI and returns
// the parsed form.
func ParseNodeURI(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("hounddog: %w: %v", ErrInvalidURI, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("hounddog: %w: %q is not absolute", ErrInvalidURI, raw)
	}
	return u, nil
}
