package detour

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionArgumentsToArgs(t *testing.T) {
	o := OptionArguments{
		"ServerAliveInterval": "300",
		"BatchMode":           true,
		"Compression":         false,
	}

	// rendered in key order, deterministically
	assert.Equal(t, []string{
		"-o", "BatchMode=yes",
		"-o", "Compression=no",
		"-o", "ServerAliveInterval=300",
	}, o.ToArgs())
}

func TestOptionArgumentsCopy(t *testing.T) {
	o := DefaultOptionArguments.Copy()
	o.Set("ServerAliveInterval", "60")
	assert.Equal(t, "60", o["ServerAliveInterval"])
	// the default set stays untouched
	assert.Equal(t, "300", DefaultOptionArguments["ServerAliveInterval"])
}

func TestTunnelArgs(t *testing.T) {
	tunnel := newTunnel(
		"hop",
		[]Forwarding{
			{Local: Addr("127.0.0.1", 40001), Target: Addr("one.example.com", 80)},
			{Local: Addr("127.0.0.1", 40002), Target: Addr("two.example.com", 443)},
		},
		nil,
		"ssh",
		OptionArguments{"ServerAliveInterval": "300"},
		[]string{"-v"},
	)

	args := tunnel.args()
	joined := strings.Join(args, " ")

	// forwardings come first, in stored order
	assert.Equal(t, []string{"-L", "40001:one.example.com:80", "-L", "40002:two.example.com:443"}, args[:4])
	assert.Contains(t, joined, "-N -T -a -x")
	assert.Contains(t, joined, "-o ServerAliveInterval=300")
	assert.Contains(t, joined, "-v")

	// the hop alias goes last, verbatim, so the ssh client resolves it
	// through its own configuration
	assert.Equal(t, "hop", args[len(args)-1])
}
