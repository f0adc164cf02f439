// Package redirect installs and removes the kernel packet-rewrite rules
// that make transparent tunneling work.
//
// One rule per forwarding: outbound TCP traffic whose destination is the
// target host and port is redirected to a local port on the loopback
// interface, where an ssh client listens with a matching -L forwarding.
// Rules live in the nat table's OUTPUT chain and are driven through the
// system iptables binary, which is expected to be privileged via sudo or
// capabilities arranged by the embedder.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/detour-sh/detour/log"
	"github.com/kballard/go-shellquote"
)

var (
	// ErrInstall is returned when installing a rule fails. The enclosing
	// tunnel must roll back and abort.
	ErrInstall = errors.New("install redirect rule")

	// ErrRemove is returned when removing a rule fails. Callers log it
	// and carry on with teardown.
	ErrRemove = errors.New("remove redirect rule")
)

// DefaultCommand is the rule tool executable located via PATH.
const DefaultCommand = "iptables"

// Rule describes one packet-rewrite rule. The target host is passed to
// the rule tool verbatim, it accepts hostnames.
type Rule struct {
	TargetHost string
	TargetPort int
	LocalPort  int
}

func (r Rule) String() string {
	return fmt.Sprintf("%s:%d -> 127.0.0.1:%d", r.TargetHost, r.TargetPort, r.LocalPort)
}

// args builds the iptables arguments for the rule with the given action
// flag. Add and delete use the identical five-tuple so a delete removes
// this specific rule and nothing else, multiple tunnels may redirect the
// same target.
func (r Rule) args(action string) []string {
	return []string{
		"-t", "nat",
		action, "OUTPUT",
		"-p", "tcp",
		"-d", r.TargetHost,
		"--dport", strconv.Itoa(r.TargetPort),
		"-j", "REDIRECT",
		"--to-ports", strconv.Itoa(r.LocalPort),
	}
}

// runner executes the rule tool. It is an interface for testing purposes.
type runner interface {
	Run(cmd string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(cmd string, args ...string) error {
	if err := exec.Command(cmd, args...).Run(); err != nil {
		return fmt.Errorf("run command %q: %w", cmd, err)
	}
	return nil
}

// Driver installs and removes redirect rules.
type Driver struct {
	log.LoggerInjectable

	command string
	runner  runner
}

// Option is a functional option for the Driver.
type Option func(*Driver)

// WithCommand overrides the rule tool executable.
func WithCommand(command string) Option {
	return func(d *Driver) {
		d.command = command
	}
}

// WithRunner overrides the command runner, for testing purposes.
func WithRunner(r runner) Option {
	return func(d *Driver) {
		d.runner = r
	}
}

// NewDriver returns a rule driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{command: DefaultCommand, runner: execRunner{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Install adds the rule. A failure is fatal to the enclosing tunnel.
func (d *Driver) Install(rule Rule) error {
	if err := d.run(rule.args("-A")); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInstall, rule, err)
	}
	d.Log().Debug("redirect rule installed", log.KeyTarget, rule.String())
	return nil
}

// Remove deletes the rule with the exact same five-tuple it was
// installed with.
func (d *Driver) Remove(rule Rule) error {
	if err := d.run(rule.args("-D")); err != nil {
		return fmt.Errorf("%w %s: %w", ErrRemove, rule, err)
	}
	d.Log().Debug("redirect rule removed", log.KeyTarget, rule.String())
	return nil
}

func (d *Driver) run(args []string) error {
	log.Trace(context.Background(), "running rule tool", log.KeyCommand, shellquote.Join(append([]string{d.command}, args...)...))
	return d.runner.Run(d.command, args...)
}
