package detour

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	"github.com/detour-sh/detour/log"
	"github.com/detour-sh/detour/redirect"
	"github.com/kballard/go-shellquote"
)

// State of a tunnel. A tunnel only ever moves forward, New to Active to
// Closed, and is never reused.
type State string

const (
	// StateNew is a tunnel that has not been connected yet.
	StateNew State = "new"
	// StateActive is a tunnel with a live ssh child and its rules installed.
	StateActive State = "active"
	// StateClosed is a torn down tunnel.
	StateClosed State = "closed"
)

// Tunnel owns a single ssh client process carrying one local forwarding
// per target, and the redirect rules that route traffic into them. The
// hop alias is passed to the ssh client verbatim so the client applies
// the user's own configuration, keys and agent to it once more.
type Tunnel struct {
	log.LoggerInjectable

	hop         string
	forwardings []Forwarding
	rules       *redirect.Driver
	sshPath     string
	options     OptionArguments
	extraArgs   []string

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	pid       int
	installed []redirect.Rule
	exited    bool
	notified  bool
	stderr    bytes.Buffer
}

func newTunnel(hop string, forwardings []Forwarding, rules *redirect.Driver, sshPath string, options OptionArguments, extraArgs []string) *Tunnel {
	return &Tunnel{
		hop:         hop,
		forwardings: forwardings,
		rules:       rules,
		sshPath:     sshPath,
		options:     options,
		extraArgs:   extraArgs,
		state:       StateNew,
	}
}

// Hop returns the hop alias the tunnel connects through.
func (t *Tunnel) Hop() string {
	return t.hop
}

// Pid returns the ssh child's process id. It is 0 before Connect and
// after a failed Connect; a tunnel closed after being active keeps the
// pid its child had.
func (t *Tunnel) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// State returns the tunnel's lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Forwardings returns a copy of the tunnel's forwardings in order.
func (t *Tunnel) Forwardings() []Forwarding {
	forwardings := make([]Forwarding, len(t.forwardings))
	copy(forwardings, t.forwardings)
	return forwardings
}

func (t *Tunnel) String() string {
	return fmt.Sprintf("%s (%d forwardings)", t.hop, len(t.forwardings))
}

// args builds the ssh client argument list: one -L per forwarding in
// stored order, no remote command, no tty, no agent or X11 forwarding,
// the keepalive options and finally the hop alias.
func (t *Tunnel) args() []string {
	args := make([]string, 0, len(t.forwardings)*2+16)
	for _, forwarding := range t.forwardings {
		args = append(args, "-L", forwarding.spec())
	}
	args = append(args, "-N", "-T", "-a", "-x")
	args = append(args, t.options.ToArgs()...)
	args = append(args, t.extraArgs...)
	args = append(args, t.hop)
	return args
}

func (t *Tunnel) rule(forwarding Forwarding) redirect.Rule {
	return redirect.Rule{
		TargetHost: forwarding.Target.Host,
		TargetPort: forwarding.Target.Port,
		LocalPort:  forwarding.Local.Port,
	}
}

// Connect starts the ssh child and installs one redirect rule per
// forwarding, in order. On any rule failure the already installed rules
// are removed in reverse order, the child is terminated and reaped, and
// the tunnel is closed. Connect may be called exactly once.
func (t *Tunnel) Connect() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateActive:
		return 0, ErrAlreadyConnected
	case StateClosed:
		return 0, ErrClosed
	}

	args := t.args()
	log.Trace(context.Background(), "starting ssh child", log.KeyHop, t.hop, log.KeyCommand, shellquote.Join(append([]string{t.sshPath}, args...)...))

	cmd := exec.Command(t.sshPath, args...)
	// own process group so teardown signals don't stray into the
	// embedder's group; the child starts with a clear signal mask
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = &t.stderr

	if err := cmd.Start(); err != nil {
		// still New, the caller may retry with a fresh tunnel
		return 0, fmt.Errorf("%w: %w", ErrForkFailed, err)
	}
	t.cmd = cmd
	t.pid = cmd.Process.Pid

	for i, forwarding := range t.forwardings {
		if err := t.rules.Install(t.rule(forwarding)); err != nil {
			t.rollback(i)
			return 0, fmt.Errorf("tunnel to %s: %w", t.hop, err)
		}
		t.installed = append(t.installed, t.rule(forwarding))
	}

	t.state = StateActive
	t.Log().Info("tunnel up", log.KeyHop, t.hop, log.KeyPid, t.pid)
	return t.pid, nil
}

// rollback undoes a partial Connect: rules installed before forwarding
// index failed come out in reverse order, then the child is terminated
// and collected. Caller holds the lock.
func (t *Tunnel) rollback(failedIdx int) {
	for i := failedIdx - 1; i >= 0; i-- {
		if err := t.rules.Remove(t.installed[i]); err != nil {
			t.Log().Warn("rollback rule removal failed", log.KeyHop, t.hop, log.KeyError, err)
		}
	}
	t.installed = nil
	_ = t.cmd.Process.Signal(syscall.SIGTERM)
	_ = t.cmd.Wait()
	t.pid = 0
	t.exited = true
	t.state = StateClosed
}

// Disconnect signals the ssh child and removes the tunnel's rules. Rule
// removal failures are logged, teardown continues regardless. Calling
// Disconnect on an already closed tunnel is a no-op.
func (t *Tunnel) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnect()
}

func (t *Tunnel) disconnect() {
	if t.state != StateActive {
		t.state = StateClosed
		return
	}
	t.state = StateClosed

	if t.cmd != nil && !t.exited {
		if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			t.Log().Debug("signaling ssh child failed", log.KeyPid, t.pid, log.KeyError, err)
		}
		// collect the child once it dies; if the reaper got there
		// first this returns an error which is of no interest
		cmd := t.cmd
		go func() { _ = cmd.Wait() }()
	}

	for _, rule := range t.installed {
		if err := t.rules.Remove(rule); err != nil {
			t.Log().Warn("rule removal failed", log.KeyHop, t.hop, log.KeyError, err)
		}
	}
	t.installed = nil
	t.Log().Info("tunnel down", log.KeyHop, t.hop, log.KeyPid, t.pid)
}

// markExited records that the child has already been collected, so
// teardown skips signaling and waiting.
func (t *Tunnel) markExited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exited = true
}

// markNotified returns true the first time it is called. Close
// observers fire exactly once per tunnel, whichever teardown path runs
// first.
func (t *Tunnel) markNotified() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notified {
		return false
	}
	t.notified = true
	return true
}

// Alive reports whether the ssh child still exists, probed with the
// null signal.
func (t *Tunnel) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive || t.exited || t.cmd == nil {
		return false
	}
	return t.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stderr returns what the ssh child has written to its standard error,
// useful for diagnosing an immediately dying child.
func (t *Tunnel) Stderr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stderr.String()
}
