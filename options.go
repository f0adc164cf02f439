package detour

import (
	"fmt"
	"time"

	"github.com/detour-sh/detour/redirect"
	"github.com/google/shlex"
)

type managerOptions struct {
	config    Config
	rules     *redirect.Driver
	localPort LocalPortFunc
	options   OptionArguments
	extraArgs []string
	noReaper  bool
}

// Option is a functional option for [New].
type Option func(*managerOptions)

// WithConfigFiles sets the ssh configuration files used for hop alias
// resolution, in precedence order.
func WithConfigFiles(paths ...string) Option {
	return func(o *managerOptions) {
		o.config.ConfigFiles = paths
	}
}

// WithSSHPath overrides the ssh client executable.
func WithSSHPath(path string) Option {
	return func(o *managerOptions) {
		o.config.SSHPath = path
	}
}

// WithRuleDriver overrides the redirect rule driver.
func WithRuleDriver(d *redirect.Driver) Option {
	return func(o *managerOptions) {
		o.rules = d
	}
}

// WithLocalPortFunc overrides local port allocation, for testing
// purposes.
func WithLocalPortFunc(fn LocalPortFunc) Option {
	return func(o *managerOptions) {
		o.localPort = fn
	}
}

// WithSSHOption sets a -o option passed to every ssh child.
func WithSSHOption(key string, value any) Option {
	return func(o *managerOptions) {
		o.options.Set(key, value)
	}
}

// WithExtraArgs appends extra arguments to every ssh invocation. The
// string is split with shell-like quoting rules.
func WithExtraArgs(args string) Option {
	return func(o *managerOptions) {
		split, err := shlex.Split(args)
		if err != nil {
			panic(fmt.Sprintf("invalid extra arguments %q: %v", args, err))
		}
		o.extraArgs = append(o.extraArgs, split...)
	}
}

// WithReapInterval sets the built-in reaper tick period.
func WithReapInterval(interval time.Duration) Option {
	return func(o *managerOptions) {
		o.config.ReapInterval = interval
	}
}

// WithoutReaper disables the built-in reaper ticker. The embedder
// schedules [Manager.Reap] from its own loop instead.
func WithoutReaper() Option {
	return func(o *managerOptions) {
		o.noReaper = true
	}
}
