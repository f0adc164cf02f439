// Package detour creates transparent TCP redirections to hosts that are
// only reachable through an intermediate hop.
//
// For each requested target a free local port is allocated, an ssh
// client child is started with one -L forwarding per target toward the
// hop, and a kernel packet-rewrite rule is installed that sends outbound
// connections for the real target address into the local forwarded port.
// Applications keep dialing the real address, the traffic rides inside
// ssh to the hop and the hop dials the actual target.
//
// The package deliberately does not speak the SSH wire protocol. It
// drives the installed ssh client binary, so the user's existing
// configuration, keys and agent all keep working. Hop aliases are
// resolved through the same OpenSSH-style configuration files, once here
// to learn where the hop is (so the local port is allocated on the right
// route), and once more by the ssh client itself.
//
// A [Manager] owns the registry of live tunnels keyed by child pid,
// reaps dying children either from a built-in periodic tick or from the
// embedder's own loop via [Manager.Reap], and dispatches create and
// close notifications to registered observers. Tunnel creation and
// removal run inside a critical section during which termination
// signals are held back, so a shutdown request cannot observe a child
// without its rules or a rule without its registry entry.
//
// Cleanup is guaranteed on cooperative termination and on normal child
// death. If the process is hard-killed the kernel rules leak, recovering
// from that is the embedder's problem and explicitly out of scope.
package detour
