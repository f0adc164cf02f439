package detour

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// TerminationSignals are the signals whose delivery is held back while a
// tunnel is being created or removed, so that a shutdown request cannot
// interleave between starting the ssh child, installing its rules and
// recording the tunnel in the registry.
var TerminationSignals = []os.Signal{os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM}

// signalGuard implements the critical-section discipline cooperatively:
// instead of masking signals at the kernel, delivery is routed through a
// channel and acted on only between sections. A side effect worth
// noting: because nothing is ever masked, ssh children are born with a
// clear signal mask and dispositions.
type signalGuard struct {
	mu      sync.Mutex
	depth   int
	pending []os.Signal
	handler func(os.Signal)

	// armed for the duration of a critical section when no persistent
	// handler is installed
	section chan os.Signal
}

// enter opens a critical section. Sections nest.
func (g *signalGuard) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.depth++
	if g.depth > 1 || g.handler != nil {
		return
	}
	g.section = make(chan os.Signal, 8)
	signal.Notify(g.section, TerminationSignals...)
}

// exit closes a critical section and delivers whatever arrived during
// it. With a handler installed the handler gets the signals, otherwise
// they are re-raised so the default disposition applies after all.
func (g *signalGuard) exit() {
	g.mu.Lock()
	g.depth--
	if g.depth > 0 {
		g.mu.Unlock()
		return
	}

	if g.section != nil {
		signal.Stop(g.section)
	drain:
		for {
			select {
			case sig := <-g.section:
				g.pending = append(g.pending, sig)
			default:
				break drain
			}
		}
		g.section = nil
	}

	pending := g.pending
	g.pending = nil
	handler := g.handler
	g.mu.Unlock()

	for _, sig := range pending {
		if handler != nil {
			handler(sig)
			continue
		}
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}
}

// install registers a persistent handler for the termination signals.
// Signals arriving outside critical sections invoke the handler right
// away, signals arriving inside are queued and handed over when the
// section closes. The returned function uninstalls the handler.
func (g *signalGuard) install(handler func(os.Signal)) func() {
	ch := make(chan os.Signal, 8)
	done := make(chan struct{})

	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
	signal.Notify(ch, TerminationSignals...)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				g.mu.Lock()
				if g.depth > 0 {
					g.pending = append(g.pending, sig)
					g.mu.Unlock()
					continue
				}
				g.mu.Unlock()
				handler(sig)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
		g.mu.Lock()
		g.handler = nil
		g.mu.Unlock()
	}
}
