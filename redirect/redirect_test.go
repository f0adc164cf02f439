package redirect

import (
	"errors"
	"testing"

	"github.com/detour-sh/detour/detourtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingRunner always returns the given error.
type failingRunner struct {
	err error
}

func (f failingRunner) Run(string, ...string) error {
	return f.err
}

func TestInstall(t *testing.T) {
	recorder := detourtest.NewRuleRecorder()
	driver := NewDriver(WithRunner(recorder))

	trace, restore := detourtest.CaptureTrace()
	defer restore()

	err := driver.Install(Rule{TargetHost: "irc.example.net", TargetPort: 6667, LocalPort: 40001})
	require.NoError(t, err)

	// the composed command line ends up in the trace log
	assert.True(t, trace.Received("iptables -t nat -A OUTPUT"))

	commands := recorder.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, []string{
		"iptables",
		"-t", "nat",
		"-A", "OUTPUT",
		"-p", "tcp",
		"-d", "irc.example.net",
		"--dport", "6667",
		"-j", "REDIRECT",
		"--to-ports", "40001",
	}, commands[0])
	assert.Equal(t, 1, recorder.Count())
}

func TestRemove(t *testing.T) {
	recorder := detourtest.NewRuleRecorder()
	driver := NewDriver(WithRunner(recorder))

	rule := Rule{TargetHost: "irc.example.net", TargetPort: 6667, LocalPort: 40001}
	require.NoError(t, driver.Install(rule))
	require.NoError(t, driver.Remove(rule))

	commands := recorder.Commands()
	require.Len(t, commands, 2)
	assert.Equal(t, []string{"-A", "-D"}, recorder.Actions())

	// apart from the action flag, install and delete use the exact same
	// tuple so only this rule gets removed
	install, remove := commands[0], commands[1]
	require.Equal(t, len(install), len(remove))
	for i := range install {
		if i == 3 {
			continue
		}
		assert.Equal(t, install[i], remove[i])
	}
	assert.Equal(t, 0, recorder.Count())
}

func TestInstallFailure(t *testing.T) {
	boom := errors.New("exit status 4")
	driver := NewDriver(WithRunner(failingRunner{err: boom}))

	err := driver.Install(Rule{TargetHost: "example.com", TargetPort: 80, LocalPort: 40002})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstall)
	assert.ErrorIs(t, err, boom)
}

func TestRemoveFailure(t *testing.T) {
	boom := errors.New("exit status 4")
	driver := NewDriver(WithRunner(failingRunner{err: boom}))

	err := driver.Remove(Rule{TargetHost: "example.com", TargetPort: 80, LocalPort: 40002})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemove)
}

func TestWithCommand(t *testing.T) {
	recorder := detourtest.NewRuleRecorder()
	driver := NewDriver(WithRunner(recorder), WithCommand("/usr/sbin/iptables-legacy"))

	require.NoError(t, driver.Install(Rule{TargetHost: "example.com", TargetPort: 443, LocalPort: 40003}))
	commands := recorder.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "/usr/sbin/iptables-legacy", commands[0][0])
}

func TestRuleString(t *testing.T) {
	rule := Rule{TargetHost: "example.com", TargetPort: 443, LocalPort: 40003}
	assert.Equal(t, "example.com:443 -> 127.0.0.1:40003", rule.String())
}
