package detour

import (
	"fmt"
	"net"
	"strconv"
)

// Address is an unresolved network endpoint. The host stays verbatim,
// it is handed as-is to both the ssh client, which re-interprets aliases
// through its own configuration, and to the rule driver, which accepts
// hostnames.
type Address struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is a shorthand Address constructor.
func Addr(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// Valid returns true when the address has a host and a port in range.
func (a Address) Valid() bool {
	return a.Host != "" && a.Port > 0 && a.Port <= 65535
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Forwarding pairs a local endpoint with the target it stands in for.
// While its tunnel is active, exactly one redirect rule exists for it.
type Forwarding struct {
	Local  Address `yaml:"local"`
	Target Address `yaml:"target"`
}

func (f Forwarding) String() string {
	return fmt.Sprintf("%s -> %s", f.Target, f.Local)
}

// spec returns the ssh -L argument for the forwarding.
func (f Forwarding) spec() string {
	return fmt.Sprintf("%d:%s:%d", f.Local.Port, f.Target.Host, f.Target.Port)
}
