package detour

import "errors"

var (
	ErrNoTargets        = errors.New("no targets given")       // ErrNoTargets is returned when a tunnel is requested without any target addresses
	ErrInvalidTarget    = errors.New("invalid target address") // ErrInvalidTarget is returned when a target address has no host or an out of range port
	ErrForkFailed       = errors.New("starting ssh failed")    // ErrForkFailed is returned when the operating system refuses to start the ssh child
	ErrAlreadyConnected = errors.New("already connected")      // ErrAlreadyConnected is returned when Connect is called more than once
	ErrClosed           = errors.New("tunnel is closed")       // ErrClosed is returned when operating on a tunnel that has been torn down
	ErrDuplicatePort    = errors.New("duplicate local port")   // ErrDuplicatePort is returned when two forwardings of one tunnel share a local port
)
