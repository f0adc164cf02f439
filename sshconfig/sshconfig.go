// Package sshconfig resolves host aliases through OpenSSH-style client
// configuration files.
//
// The resolver answers one question: given an alias the user typed, what
// hostname and port should actually be dialed? It walks the configured
// files in order, collects the directives of every Host block whose
// pattern list matches the alias, and extracts the HostName and Port
// values. The first obtained value for a keyword wins, across blocks and
// across files, which matches the OpenSSH precedence rule: the user's
// own configuration is listed before the system-wide one, so personal
// settings dominate.
//
// Only the subset of the configuration language needed for resolution is
// implemented. Unknown keywords are collected but unused, Match and
// Include directives are not followed.
package sshconfig

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mitchellh/go-homedir"
)

// DefaultPort is used when no matching block carries a Port directive.
const DefaultPort = 22

// HostConfig is the resolved dial address for an alias. The hostname is
// kept verbatim, it is never resolved to a numeric address here.
type HostConfig struct {
	Hostname string
	Port     int
}

// Resolver resolves aliases against an ordered list of configuration
// files. A nil or empty path list means the default locations.
type Resolver struct {
	paths []string
}

// NewResolver returns a Resolver over the given configuration files in
// precedence order. With no arguments the default user and system
// configuration files are used.
func NewResolver(paths ...string) *Resolver {
	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	return &Resolver{paths: paths}
}

// DefaultPaths returns the conventional configuration file locations,
// the user file first so it shadows the system-wide one.
func DefaultPaths() []string {
	paths := make([]string, 0, 2)
	if user, err := homedir.Expand(filepath.Join("~", ".ssh", "config")); err == nil {
		paths = append(paths, user)
	}
	return append(paths, "/etc/ssh/ssh_config")
}

// Paths returns the configuration file list the resolver walks.
func (r *Resolver) Paths() []string {
	paths := make([]string, len(r.paths))
	copy(paths, r.paths)
	return paths
}

// Resolve returns the dial address for alias. Files that are missing or
// unreadable are skipped, malformed directives are ignored, and when
// nothing matches the alias itself with the default port is returned, so
// there is always an answer.
func (r *Resolver) Resolve(alias string) HostConfig {
	stripped := stripUser(alias)
	if stripped == "" {
		// a bare "user@" is malformed but still dialable as-is
		return HostConfig{Hostname: alias, Port: DefaultPort}
	}

	acc := newAccumulator(stripped)
	for _, path := range r.paths {
		f, err := os.Open(path)
		if err != nil {
			// missing or unreadable files are silently skipped
			continue
		}
		acc.scan(f)
		f.Close()
	}
	return acc.hostConfig()
}

// Resolve is a shorthand for NewResolver(paths...).Resolve(alias).
func Resolve(alias string, paths ...string) HostConfig {
	return NewResolver(paths...).Resolve(alias)
}

// ResolveFrom resolves alias against configuration content supplied as
// readers instead of files, in the same precedence order.
func ResolveFrom(alias string, sources ...io.Reader) HostConfig {
	stripped := stripUser(alias)
	if stripped == "" {
		return HostConfig{Hostname: alias, Port: DefaultPort}
	}
	acc := newAccumulator(stripped)
	for _, src := range sources {
		acc.scan(src)
	}
	return acc.hostConfig()
}

// stripUser removes a user@ prefix from an alias. Everything up to and
// including the last @ goes, like the ssh client does it.
func stripUser(alias string) string {
	for i := len(alias) - 1; i >= 0; i-- {
		if alias[i] == '@' {
			return alias[i+1:]
		}
	}
	return alias
}

// hostConfig extracts the resolved address from the accumulated
// directives, falling back to the alias and the default port.
func (a *accumulator) hostConfig() HostConfig {
	hc := HostConfig{Hostname: a.alias, Port: DefaultPort}
	if hostname, ok := a.values["hostname"]; ok {
		hc.Hostname = hostname
	}
	if port, ok := a.values["port"]; ok {
		if n, err := strconv.Atoi(port); err == nil && n > 0 && n <= 65535 {
			hc.Port = n
		}
		// a malformed port falls through to the default
	}
	return hc
}
