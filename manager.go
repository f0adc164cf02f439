package detour

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/detour-sh/detour/log"
	"github.com/detour-sh/detour/portprobe"
	"github.com/detour-sh/detour/redirect"
	"github.com/detour-sh/detour/sshconfig"
	"golang.org/x/sys/unix"
)

// LocalPortFunc allocates a local endpoint suitable for a forwarding
// toward the given hop address. The default probes the hop with
// [portprobe.Probe].
type LocalPortFunc func(ctx context.Context, hopHost string, hopPort int) (portprobe.Local, error)

// Config holds the Manager's tunable settings. The zero value with
// defaults applied is fully usable.
type Config struct {
	// SSHPath is the ssh client executable, located via PATH.
	SSHPath string `yaml:"sshPath" default:"ssh"`
	// ConfigFiles are the ssh configuration files used to resolve hop
	// aliases, in precedence order. Empty means the default user and
	// system files.
	ConfigFiles []string `yaml:"configFiles"`
	// ReapInterval is the period of the built-in reaper tick.
	ReapInterval time.Duration `yaml:"reapInterval" default:"1s"`
}

// SetDefaults fills in default values.
func (c *Config) SetDefaults() {
	if c.SSHPath == "" {
		c.SSHPath = "ssh"
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = time.Second
	}
}

// Manager is the facade over the tunnel machinery. It resolves hop
// aliases, allocates local ports, drives tunnels up and down, keeps the
// registry of live tunnels keyed by the ssh child's pid, reaps dying
// children and fans out create and close notifications.
//
// All registry mutation is serialized behind one mutex, so a Manager can
// be driven from multiple goroutines. Several Managers can coexist,
// nothing here is process-global except the kernel's rule table itself.
type Manager struct {
	log.LoggerInjectable

	config    Config
	resolver  *sshconfig.Resolver
	rules     *redirect.Driver
	localPort LocalPortFunc
	options   OptionArguments
	extraArgs []string
	noReaper  bool

	guard signalGuard

	mu       sync.Mutex
	registry map[int]*Tunnel
	reaping  chan struct{}

	cbMu     sync.Mutex
	onCreate []func(*Tunnel)
	onClose  []func(*Tunnel)
}

// New returns a Manager with the given options applied.
func New(opts ...Option) *Manager {
	options := managerOptions{options: DefaultOptionArguments.Copy()}
	options.config.SetDefaults()
	for _, opt := range opts {
		opt(&options)
	}

	m := &Manager{
		config:    options.config,
		resolver:  sshconfig.NewResolver(options.config.ConfigFiles...),
		rules:     options.rules,
		localPort: options.localPort,
		options:   options.options,
		extraArgs: options.extraArgs,
		noReaper:  options.noReaper,
		registry:  make(map[int]*Tunnel),
	}
	if m.rules == nil {
		m.rules = redirect.NewDriver()
	}
	if m.localPort == nil {
		m.localPort = func(ctx context.Context, host string, port int) (portprobe.Local, error) {
			return portprobe.Probe(ctx, host, port)
		}
	}
	return m
}

// Resolve returns the dial address for a hop alias, resolved through the
// manager's configuration files.
func (m *Manager) Resolve(alias string) Address {
	hc := m.resolver.Resolve(alias)
	return Addr(hc.Hostname, hc.Port)
}

// Create builds a tunnel through hop carrying one forwarding per target
// and connects it.
//
// The hop alias is resolved through the ssh configuration files only to
// learn where the hop actually is, so that each local port can be
// allocated on the route toward it. The ssh child receives the alias
// verbatim and performs its own resolution again.
func (m *Manager) Create(ctx context.Context, hop string, targets ...Address) (*Tunnel, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	for _, target := range targets {
		if !target.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
		}
	}

	hopAddr := m.Resolve(hop)

	forwardings := make([]Forwarding, 0, len(targets))
	seen := make(map[int]struct{}, len(targets))
	for _, target := range targets {
		local, err := m.localPort(ctx, hopAddr.Host, hopAddr.Port)
		if err != nil {
			return nil, fmt.Errorf("allocate local port for %s via %s: %w", target, hopAddr, err)
		}
		if _, dup := seen[local.Port]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePort, local.Port)
		}
		seen[local.Port] = struct{}{}
		forwardings = append(forwardings, Forwarding{Local: Addr(local.Host, local.Port), Target: target})
	}

	tunnel := newTunnel(hop, forwardings, m.rules, m.config.SSHPath, m.options.Copy(), m.extraArgs)
	m.InjectLoggerTo(tunnel, log.KeyHop, hop)

	m.guard.enter()
	defer m.guard.exit()

	m.mu.Lock()
	pid, err := tunnel.Connect()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.registry[pid] = tunnel
	m.armReaper()
	m.mu.Unlock()

	m.notifyCreate(tunnel)
	return tunnel, nil
}

// Remove looks up a tunnel by its child's pid, disconnects it and drops
// it from the registry. Unknown pids return nil, which makes Remove
// idempotent.
func (m *Manager) Remove(pid int) *Tunnel {
	m.guard.enter()
	defer m.guard.exit()

	m.mu.Lock()
	tunnel, ok := m.registry[pid]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.registry, pid)
	tunnel.Disconnect()
	m.mu.Unlock()

	m.notifyClose(tunnel)
	return tunnel
}

// CloseAll removes every live tunnel.
func (m *Manager) CloseAll() {
	for _, pid := range m.pids() {
		m.Remove(pid)
	}
}

// Active returns a snapshot of the live tunnels.
func (m *Manager) Active() []*Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	tunnels := make([]*Tunnel, 0, len(m.registry))
	for _, tunnel := range m.registry {
		tunnels = append(tunnels, tunnel)
	}
	return tunnels
}

// OnCreate registers an observer invoked after each successful Create,
// once the registry contains the tunnel. Observers run synchronously on
// the calling goroutine and must not call back into the Manager.
func (m *Manager) OnCreate(fn func(*Tunnel)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onCreate = append(m.onCreate, fn)
}

// OnClose registers an observer invoked exactly once per tunnel after
// its registry entry is gone and its rules are torn down. The same
// restrictions as for OnCreate apply.
func (m *Manager) OnClose(fn func(*Tunnel)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onClose = append(m.onClose, fn)
}

func (m *Manager) notifyCreate(tunnel *Tunnel) {
	m.cbMu.Lock()
	callbacks := make([]func(*Tunnel), len(m.onCreate))
	copy(callbacks, m.onCreate)
	m.cbMu.Unlock()
	for _, fn := range callbacks {
		fn(tunnel)
	}
}

func (m *Manager) notifyClose(tunnel *Tunnel) {
	if !tunnel.markNotified() {
		return
	}
	m.cbMu.Lock()
	callbacks := make([]func(*Tunnel), len(m.onClose))
	copy(callbacks, m.onClose)
	m.cbMu.Unlock()
	for _, fn := range callbacks {
		fn(tunnel)
	}
}

// Reap performs one reaper tick: a non-blocking wait on every registered
// child, tearing down the tunnels of the ones that have terminated. It
// is exported so embedders that disable the built-in ticker can schedule
// it from their own loop.
func (m *Manager) Reap() {
	for _, pid := range m.pids() {
		var status unix.WaitStatus
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.ECHILD):
			// collected elsewhere, the process is gone either way
		case err != nil, wpid != pid:
			continue
		case !status.Exited() && !status.Signaled():
			// traced or continued, not a termination
			continue
		}
		m.reapExited(pid)
	}
}

// reapExited drives the tunnel of a terminated child to Closed and
// notifies observers.
func (m *Manager) reapExited(pid int) {
	m.guard.enter()
	defer m.guard.exit()

	m.mu.Lock()
	tunnel, ok := m.registry[pid]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.registry, pid)
	tunnel.markExited()
	tunnel.Disconnect()
	m.mu.Unlock()

	m.Log().Info("ssh child exited", log.KeyHop, tunnel.Hop(), log.KeyPid, pid)
	m.notifyClose(tunnel)
}

// armReaper starts the built-in reaper ticker unless it is already
// running or disabled. Caller holds m.mu. The ticker deregisters itself
// once the registry empties and a later Create re-arms it.
func (m *Manager) armReaper() {
	if m.noReaper || m.reaping != nil {
		return
	}
	stop := make(chan struct{})
	m.reaping = stop

	go func() {
		ticker := time.NewTicker(m.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Reap()
				m.mu.Lock()
				if len(m.registry) == 0 && m.reaping == stop {
					m.reaping = nil
					m.mu.Unlock()
					return
				}
				m.mu.Unlock()
			}
		}
	}()
}

// Wait blocks until every registered tunnel is gone, using blocking
// child-waits. It exists for embedders without an event loop: a
// dedicated goroutine sleeps here until all children exit. Stopped or
// continued children are ignored, only actual termination counts.
//
// Wait collects any child of the process, so it is meant for embedders
// whose only children are the manager's tunnels.
func (m *Manager) Wait() {
	for {
		if len(m.pids()) == 0 {
			return
		}

		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, 0, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			// no children left at all; clear anything still registered
			m.Reap()
			continue
		case err != nil:
			m.Log().Error("wait failed", log.KeyError, err)
			return
		}

		if !status.Exited() && !status.Signaled() {
			continue
		}
		m.reapExited(pid)
	}
}

// HandleSignals installs a shutdown handler for the termination
// signals: all tunnels are closed, then fn is invoked with the signal.
// Delivery is deferred while a tunnel create or remove is in flight.
// The returned function uninstalls the handler.
func (m *Manager) HandleSignals(fn func(os.Signal)) func() {
	return m.guard.install(func(sig os.Signal) {
		m.Log().Info("termination signal received, closing tunnels", "signal", sig.String())
		m.CloseAll()
		if fn != nil {
			fn(sig)
		}
	})
}

func (m *Manager) pids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.registry))
	for pid := range m.registry {
		pids = append(pids, pid)
	}
	return pids
}
