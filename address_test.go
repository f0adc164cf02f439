package detour

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	a := Addr("example.com", 8080)
	assert.Equal(t, "example.com:8080", a.String())
	assert.True(t, a.Valid())

	assert.False(t, Addr("", 80).Valid())
	assert.False(t, Addr("example.com", 0).Valid())
	assert.False(t, Addr("example.com", 65536).Valid())
	assert.True(t, Addr("example.com", 65535).Valid())
}

func TestForwardingSpec(t *testing.T) {
	f := Forwarding{
		Local:  Addr("127.0.0.1", 40001),
		Target: Addr("irc.example.net", 6667),
	}
	assert.Equal(t, "40001:irc.example.net:6667", f.spec())
	assert.Equal(t, "irc.example.net:6667 -> 127.0.0.1:40001", f.String())
}
