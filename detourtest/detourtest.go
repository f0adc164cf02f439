// Package detourtest provides testing utilities for the detour
// packages: mocks for the rule tool and the ssh client, and capture of
// the internal trace logging.
package detourtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/detour-sh/detour/log"
)

var _ log.TraceLogger = (*TraceRecorder)(nil)

// TraceRecorder captures detour's internal trace logging.
type TraceRecorder struct {
	mu       sync.Mutex
	messages []string
}

// Log records the message with its key-value pairs rendered inline.
func (r *TraceRecorder) Log(_ context.Context, _ slog.Level, msg string, keysAndValues ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, strings.TrimSpace(msg+" "+fmt.Sprintln(keysAndValues...)))
}

// Messages returns everything recorded so far.
func (r *TraceRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	messages := make([]string, len(r.messages))
	copy(messages, r.messages)
	return messages
}

// Received returns true when any recorded message contains substr.
func (r *TraceRecorder) Received(substr string) bool {
	for _, message := range r.Messages() {
		if strings.Contains(message, substr) {
			return true
		}
	}
	return false
}

// CaptureTrace installs a TraceRecorder as the trace logger. The
// returned restore function puts the previous trace logger back.
func CaptureTrace() (*TraceRecorder, func()) {
	previous := log.GetTraceLogger()
	recorder := &TraceRecorder{}
	log.SetTraceLogger(recorder)
	return recorder, func() { log.SetTraceLogger(previous) }
}

// ErrMockFailure is returned by mocks scripted to fail.
var ErrMockFailure = errors.New("mock failure")

// RuleRecorder is a rule tool runner that records every invocation and
// keeps book on the rules that would be in the kernel. Pass it to
// redirect.NewDriver with redirect.WithRunner.
type RuleRecorder struct {
	// FailOnAdd makes the Nth install fail, counted from one. Zero
	// never fails.
	FailOnAdd int

	mu        sync.Mutex
	commands  [][]string
	installed map[string]int
	adds      int
}

// NewRuleRecorder returns an empty RuleRecorder.
func NewRuleRecorder() *RuleRecorder {
	return &RuleRecorder{installed: make(map[string]int)}
}

// Run records the invocation and applies it to the rule bookkeeping.
// The argument layout is the rule driver's:
//
//	-t nat <action> OUTPUT -p tcp -d <host> --dport <port> -j REDIRECT --to-ports <local>
func (r *RuleRecorder) Run(cmd string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, append([]string{cmd}, args...))

	action := args[2]
	key := fmt.Sprintf("%s:%s->%s", args[7], args[9], args[13])
	switch action {
	case "-A":
		r.adds++
		if r.FailOnAdd == r.adds {
			return fmt.Errorf("%w: exit status 1", ErrMockFailure)
		}
		r.installed[key]++
	case "-D":
		r.installed[key]--
		if r.installed[key] <= 0 {
			delete(r.installed, key)
		}
	}
	return nil
}

// Commands returns every recorded invocation, command name first.
func (r *RuleRecorder) Commands() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	commands := make([][]string, len(r.commands))
	copy(commands, r.commands)
	return commands
}

// Actions returns the -A / -D sequence of the recorded invocations.
func (r *RuleRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.commands))
	for _, command := range r.commands {
		actions = append(actions, command[3])
	}
	return actions
}

// Count returns the number of rules currently installed.
func (r *RuleRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.installed {
		n += c
	}
	return n
}

// Has returns true when a rule redirecting targetHost:targetPort to
// localPort is currently installed.
func (r *RuleRecorder) Has(targetHost string, targetPort, localPort int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed[fmt.Sprintf("%s:%d->%d", targetHost, targetPort, localPort)] > 0
}

// SSHStub writes an executable shell script into dir that stands in for
// the ssh client and returns its path.
func SSHStub(dir, body string) (string, error) {
	path := filepath.Join(dir, "fake-ssh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		return "", fmt.Errorf("write ssh stub: %w", err)
	}
	return path, nil
}
